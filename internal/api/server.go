package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"corpsim/internal/config"
	"corpsim/internal/sim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Server struct {
	cfg       config.APIConfig
	log       *slog.Logger
	store     *sim.Store
	configs   *sim.ConfigStore
	market    *sim.MarketData
	valuation *sim.ValuationEngine
	mux       *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, store *sim.Store, configs *sim.ConfigStore, market *sim.MarketData, valuation *sim.ValuationEngine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		store:     store,
		configs:   configs,
		market:    market,
		valuation: valuation,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/market/commodities", s.handleCommoditySummary)
		r.Get("/market/commodities/{name}", s.handleCommodityDetail)
		r.Get("/market/products", s.handleProductSummary)
		r.Get("/market/products/{name}", s.handleProductDetail)
		r.Get("/products/{name}/demand", s.handleProductDemand)

		r.Post("/corporations", s.handleCreateCorporation)
		r.Get("/corporations/{id}/valuation", s.handleValuation)
		r.Get("/corporations/{id}/balance-sheet", s.handleBalanceSheet)
		r.Get("/corporations/{id}/financials", s.handleFinancials)
		r.Post("/corporations/{id}/entries", s.handleEnterMarket)
		r.Post("/corporations/{id}/shares/trade", s.handleShareTrade)

		r.Post("/entries/{id}/units/build", s.handleBuildUnits)
		r.Post("/entries/{id}/units/abandon", s.handleAbandonUnits)
		r.Delete("/entries/{id}", s.handleAbandonEntry)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/market/invalidate", s.handleInvalidate)
			r.Post("/admin/audit/run", s.handleAuditRun)
			r.Put("/admin/sectors/{name}/flows/{unitType}", s.handleUpdateFlow)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}
		if token == "" || token != s.cfg.AdminToken {
			writeError(w, http.StatusForbidden, sim.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCommoditySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.market.CommoditySummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleProductSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.market.ProductSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCommodityDetail(w http.ResponseWriter, r *http.Request) {
	quote, err := s.market.CommodityDetail(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleProductDetail(w http.ResponseWriter, r *http.Request) {
	quote, err := s.market.ProductDetail(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleProductDemand(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "name")
	sector := strings.TrimSpace(r.URL.Query().Get("sector"))
	if sector == "" {
		writeError(w, http.StatusBadRequest, "sector query parameter is required")
		return
	}
	cfg, err := s.configs.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, ok := cfg.Sectors[sector]; !ok {
		writeDomainError(w, sim.ErrSectorNotFound)
		return
	}
	if _, ok := cfg.ItemByName(product); !ok {
		writeDomainError(w, sim.ErrItemNotFound)
		return
	}
	counts, err := s.store.UnitCounts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	demand := sim.ComputeDemandForProduct(cfg, sector, product, counts)
	writeJSON(w, http.StatusOK, map[string]any{
		"product": product,
		"sector":  sector,
		"demand":  demand,
	})
}

func (s *Server) handleCreateCorporation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name           string  `json:"name"`
		InitialCapital float64 `json:"initial_capital"`
		TotalShares    int64   `json:"total_shares"`
		PublicShares   int64   `json:"public_shares"`
		DividendBps    int32   `json:"dividend_bps"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.store.CreateCorporation(r.Context(), sim.CreateCorporationInput{
		Name:           in.Name,
		InitialCapital: in.InitialCapital,
		TotalShares:    in.TotalShares,
		PublicShares:   in.PublicShares,
		DividendBps:    in.DividendBps,
		Actor:          actorFrom(r),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	valuation, err := s.valuation.CalculateStockPrice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (s *Server) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sheet, err := s.valuation.CalculateBalanceSheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleFinancials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hours := 24.0
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		hours, err = strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
	}

	if _, err := s.store.Financials(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := s.store.EntriesForCorporation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cfg, err := s.configs.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	prices, err := s.marketPrices(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]sim.EntryFinancials, 0, len(entries))
	var totalRevenue, totalCosts float64
	for _, entry := range entries {
		fin := sim.ComputeEntryFinancials(entry, cfg, prices, hours)
		totalRevenue += fin.Revenue
		totalCosts += fin.VariableCosts
		out = append(out, fin)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"corporation_id": id,
		"period_hours":   hours,
		"revenue":        totalRevenue,
		"variable_costs": totalCosts,
		"profit":         totalRevenue - totalCosts,
		"entries":        out,
	})
}

// marketPrices flattens both cached summaries into one name-to-price map
// for the financials calculator.
func (s *Server) marketPrices(r *http.Request) (map[string]float64, error) {
	commodities, err := s.market.CommoditySummary(r.Context())
	if err != nil {
		return nil, err
	}
	products, err := s.market.ProductSummary(r.Context())
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(commodities.Items)+len(products.Items))
	for _, q := range commodities.Items {
		prices[q.Name] = q.Price
	}
	for _, q := range products.Items {
		prices[q.Name] = q.Price
	}
	return prices, nil
}

func (s *Server) handleEnterMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		StateCode  string `json:"state_code"`
		SectorName string `json:"sector_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entryID, err := s.store.EnterMarket(r.Context(), sim.EnterMarketInput{
		CorporationID:  id,
		StateCode:      in.StateCode,
		SectorName:     in.SectorName,
		Actor:          actorFrom(r),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidateMarket()
	writeJSON(w, http.StatusCreated, map[string]any{"entry_id": entryID})
}

func (s *Server) handleBuildUnits(w http.ResponseWriter, r *http.Request) {
	s.handleAdjustUnits(w, r, s.store.BuildUnits)
}

func (s *Server) handleAbandonUnits(w http.ResponseWriter, r *http.Request) {
	s.handleAdjustUnits(w, r, s.store.AbandonUnits)
}

func (s *Server) handleAdjustUnits(w http.ResponseWriter, r *http.Request, apply func(context.Context, sim.AdjustUnitsInput) error) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		UnitType string `json:"unit_type"`
		Count    int64  `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := apply(r.Context(), sim.AdjustUnitsInput{
		EntryID:        id,
		UnitType:       sim.UnitType(in.UnitType),
		Count:          in.Count,
		Actor:          actorFrom(r),
		IdempotencyKey: idempotencyKey(r),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidateMarket()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAbandonEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.AbandonEntry(r.Context(), id, actorFrom(r), idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidateMarket()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleShareTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Side     string `json:"side"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	valuation, err := s.valuation.CalculateStockPrice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	price := executionPrice(valuation.CalculatedPrice, in.Side)
	tradeID, err := s.store.RecordShareTrade(r.Context(), sim.RecordTradeInput{
		CorporationID:  id,
		Side:           in.Side,
		Quantity:       in.Quantity,
		Price:          price,
		Actor:          actorFrom(r),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trade_id":         tradeID,
		"execution_price":  price,
		"calculated_price": valuation.CalculatedPrice,
	})
}

// executionPrice applies the buy/sell spread around the calculated price.
// Buyers pay 1% over, sellers receive 1% under, rounded to cents.
func executionPrice(calculated float64, side string) float64 {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy":
		return sim.RoundCents(calculated * 1.01)
	case "sell":
		return sim.RoundCents(calculated * 0.99)
	default:
		return sim.RoundCents(calculated)
	}
}

func (s *Server) handleInvalidate(w http.ResponseWriter, _ *http.Request) {
	if err := s.market.InvalidateAll(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAuditRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.market.ValidateAndAudit(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	sector := chi.URLParam(r, "name")
	unitType := sim.UnitType(chi.URLParam(r, "unitType"))
	var in struct {
		Inputs struct {
			Resources map[string]float64 `json:"resources"`
			Products  map[string]float64 `json:"products"`
		} `json:"inputs"`
		Outputs struct {
			Resources map[string]float64 `json:"resources"`
			Products  map[string]float64 `json:"products"`
		} `json:"outputs"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flow := sim.UnitFlow{
		Inputs:  sim.FlowRates{ResourceRates: in.Inputs.Resources, ProductRates: in.Inputs.Products},
		Outputs: sim.FlowRates{ResourceRates: in.Outputs.Resources, ProductRates: in.Outputs.Products},
	}
	if err := s.configs.UpdateUnitFlow(r.Context(), sector, unitType, flow); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidateMarket()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// invalidateMarket drops the cached market summaries after a committed
// mutation. Failure is logged, never surfaced: the cache self-heals at the
// next TTL expiry.
func (s *Server) invalidateMarket() {
	if err := s.market.InvalidateAll(); err != nil {
		s.log.Warn("market invalidation failed", "err", err)
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func actorFrom(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		actor = "anonymous"
	}
	return actor
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sim.ErrDuplicateIdempotency), errors.Is(err, sim.ErrTxConflict), errors.Is(err, sim.ErrEntryExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sim.ErrInsufficientFunds), errors.Is(err, sim.ErrInsufficientUnits),
		errors.Is(err, sim.ErrInvalidUnitType), errors.Is(err, sim.ErrUnitTypeNotEnabled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sim.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sim.ErrCorporationNotFound), errors.Is(err, sim.ErrEntryNotFound),
		errors.Is(err, sim.ErrSectorNotFound), errors.Is(err, sim.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
