// Package app assembles the dispatch service from its parts.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/api"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/config"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/dispatch"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/outbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	infrageocode "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/geocode"
	infralogger "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/mesh"
	inframetrics "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/metrics"
	infrastore "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/store"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/clock"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/internal/eventbus"
)

// Service orchestrates the dispatch coordinator and its actors.
type Service struct {
	cfg     *config.Config
	store   store.Store
	tr      *mesh.MQTTTransport
	out     *outbound.Manager
	trk     *tracker.Tracker
	coord   *dispatch.Coordinator
	bus     *eventbus.Bus
	log     logger.Logger
	apiAddr string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := infralogger.New("service")

	st, err := infrastore.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	tr, err := mesh.NewMQTTTransport(cfg.Mesh)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("mesh transport: %w", err)
	}

	sink, err := inframetrics.NewSink(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	bus := eventbus.New()
	clk := clock.System{}
	out, err := outbound.NewManager(st, tr, cfg.Outbound, clk, bus, infralogger.New("outbound"))
	if err != nil {
		return nil, fmt.Errorf("outbound manager: %w", err)
	}
	trk, err := tracker.New(st, cfg.Tracker, clk, bus, infralogger.New("tracker"))
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	geo := infrageocode.New(cfg.Geocoder)
	coord, err := dispatch.NewCoordinator(st, trk, out, tr, geo, cfg.Dispatch, clk, bus, sink, infralogger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	tr.SetHandler(coord.HandleFrame)

	return &Service{
		cfg:     cfg,
		store:   st,
		tr:      tr,
		out:     out,
		trk:     trk,
		coord:   coord,
		bus:     bus,
		log:     log,
		apiAddr: cfg.API.Addr,
	}, nil
}

// Coordinator exposes the command surface, for the CLI and tests.
func (s *Service) Coordinator() *dispatch.Coordinator { return s.coord }

// Run starts all actors and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.out.Recover(ctx); err != nil {
		return fmt.Errorf("recover pending acks: %w", err)
	}
	go s.coord.Run(ctx)
	go s.out.Run(ctx)
	go s.trk.Run(ctx)
	go s.logEvents(ctx)
	if s.cfg.Metrics.PrometheusPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", s.cfg.Metrics.PrometheusPort)
			if err := inframetrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.apiAddr != "" {
		go s.serveAPI(ctx)
	}
	s.log.Infof("dispatch service up")
	<-ctx.Done()
	return nil
}

func (s *Service) serveAPI(ctx context.Context) {
	srv := &http.Server{Addr: s.apiAddr, Handler: api.NewHandler(s.coord).Mux()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
		cancel()
	}()
	s.log.Infof("api listening on %s", s.apiAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Errorf("api server: %v", err)
	}
}

// logEvents drains the bus so operators get a readable activity trail.
func (s *Service) logEvents(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	log := infralogger.New("events")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			log.Debugw("event", map[string]any{"event": fmt.Sprintf("%T", e), "detail": e})
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	if err := s.tr.Close(); err != nil {
		return err
	}
	return s.store.Close()
}
