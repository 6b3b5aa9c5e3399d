// Package service wires the core components together and drives them from
// the cron scheduler.
package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"storeops-hvac/internal/alerts"
	"storeops-hvac/internal/config"
	"storeops-hvac/internal/ingest"
	"storeops-hvac/internal/pusher"
	"storeops-hvac/internal/repository"
	"storeops-hvac/internal/sampler"
)

// Service owns the scheduled push cycles, the alert evaluation passes, and
// the telemetry ingest bridge.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	cron        *cron.Cron

	push        *pusher.Engine
	alertEngine *alerts.Engine
	bridge      *ingest.MQTTBridge
	consumer    *ingest.StreamConsumer
}

// New connects the backing stores and builds the component graph. The MQTT
// bridge is optional; everything else is required.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := repository.NewPostgresDB(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	zonesRepo := repository.NewPostgresZonesRepository(db)
	profilesRepo := repository.NewPostgresProfilesRepository(db)
	hoursRepo := repository.NewPostgresHoursRepository(db)
	entitiesRepo := repository.NewPostgresEntitiesRepository(db)
	logsRepo := repository.NewPostgresSetpointLogsRepository(db)
	alertsRepo := repository.NewPostgresAlertsRepository(db)
	subsRepo := repository.NewPostgresSubscriptionsRepository(db)

	collector := sampler.NewCollector(entitiesRepo, logsRepo, logger)

	device := pusher.NewRestDeviceClient(&cfg.DeviceAPI, logger)
	pushEngine := pusher.NewEngine(zonesRepo, profilesRepo, hoursRepo, logsRepo, collector, device, &cfg.DeviceAPI, logger)

	dispatcher := alerts.NewDispatcher(alertsRepo, subsRepo, logger)
	alertEngine := alerts.NewEngine(alertsRepo, zonesRepo, entitiesRepo, collector, dispatcher, logger)

	publisher := ingest.NewChangePublisher(redisClient, cfg.Alerts.Stream)

	svc := &Service{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		cron:        cron.New(),
		push:        pushEngine,
		alertEngine: alertEngine,
	}

	if cfg.MQTT.Broker != "" {
		bridge, err := ingest.NewMQTTBridge(&cfg.MQTT, entitiesRepo, publisher, logger)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("failed to create mqtt bridge: %w", err)
		}
		svc.bridge = bridge
	} else {
		logger.Warn("MQTT broker not configured, telemetry ingest disabled")
	}

	svc.consumer = ingest.NewStreamConsumer(
		redisClient,
		cfg.Alerts.Stream,
		cfg.Alerts.ConsumerGroup,
		cfg.Alerts.ConsumerName,
		func(ctx context.Context, event ingest.ChangeEvent) {
			alertEngine.HandleEntityChange(ctx, event.EntityID, event.Value)
		},
		logger,
	)

	return svc, nil
}

// Start runs the ingest consumer, subscribes the MQTT bridge, registers
// the cron entries, and blocks until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return err
		}
	}

	go func() {
		if err := s.consumer.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("stream consumer stopped", zap.Error(err))
		}
	}()

	if s.cfg.DeviceAPI.BaseURL == "" || s.cfg.DeviceAPI.Token == "" {
		// Without device API credentials no push can succeed; alert
		// evaluation still runs.
		s.logger.Warn("device API not configured, push cycles disabled")
	} else {
		spec := fmt.Sprintf("@every %dm", s.cfg.Push.IntervalMinutes)
		if _, err := s.cron.AddFunc(spec, func() {
			s.push.RunCycle(ctx, s.cfg.Push.Trigger)
		}); err != nil {
			return fmt.Errorf("failed to schedule push cycle: %w", err)
		}
	}

	scanSpec := fmt.Sprintf("@every %dm", s.cfg.Alerts.ScanIntervalMinutes)
	if _, err := s.cron.AddFunc(scanSpec, func() {
		s.alertEngine.RunCronPass(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule alert scan: %w", err)
	}

	repeatSpec := fmt.Sprintf("@every %dm", s.cfg.Alerts.RepeatIntervalMinutes)
	if _, err := s.cron.AddFunc(repeatSpec, func() {
		s.alertEngine.RunRepeatPass(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule repeat pass: %w", err)
	}

	s.cron.Start()
	s.logger.Info("service started",
		zap.Int("push_interval_minutes", s.cfg.Push.IntervalMinutes),
		zap.Int("alert_scan_interval_minutes", s.cfg.Alerts.ScanIntervalMinutes))

	<-ctx.Done()
	return nil
}

// Stop shuts down the scheduler and closes connections.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.bridge != nil {
		s.bridge.Stop()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
