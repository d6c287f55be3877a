package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

const (
	DefaultBCBURL = "https://api.bcb.gov.br"

	providerBCB = "bcb"

	seriesSelic = 11
	seriesIPCA  = 433

	fallbackSelic = 8.5
	fallbackIPCA  = 4.2
)

// FailurePolicy decides whether indicator failures are masked or returned.
type FailurePolicy string

const (
	FailurePolicyFallback FailurePolicy = "fallback"
	FailurePolicyStrict   FailurePolicy = "strict"
)

// EconomicSource returns the current national economic indicators.
type EconomicSource interface {
	Indicators(ctx context.Context) (models.EconomicRecord, error)
}

type EconomicConfig struct {
	BaseURL string
	Policy  FailurePolicy
}

// BCBClient reads the Selic rate (SGS 11) and IPCA inflation (SGS 433) from Banco Central do Brasil.
type BCBClient struct {
	sender  Sender
	baseURL string
	policy  FailurePolicy
	now     func() time.Time
}

func NewBCBClient(sender Sender, cfg EconomicConfig) *BCBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBCBURL
	}
	if cfg.Policy == "" {
		cfg.Policy = FailurePolicyFallback
	}
	return &BCBClient{
		sender:  sender,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		policy:  cfg.Policy,
		now:     time.Now,
	}
}

type seriesPoint struct {
	Data  string `json:"data"`
	Valor string `json:"valor"`
}

type indicator struct {
	value float64
	date  string
}

func (c *BCBClient) Indicators(ctx context.Context) (models.EconomicRecord, error) {
	var selic, ipca indicator
	var selicErr, ipcaErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		selic, selicErr = c.latest(gctx, seriesSelic)
		if c.policy == FailurePolicyStrict {
			return selicErr
		}
		return nil
	})
	g.Go(func() error {
		ipca, ipcaErr = c.latest(gctx, seriesIPCA)
		if c.policy == FailurePolicyStrict {
			return ipcaErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.EconomicRecord{}, err
	}

	rec := models.EconomicRecord{
		InterestRate:     selic.value,
		InterestRateDate: selic.date,
		Inflation:        ipca.value,
		InflationDate:    ipca.date,
		Currency:         "BRL",
		LastUpdated:      c.now().UTC(),
		Source:           "Banco Central do Brasil",
	}

	logger := observability.LoggerFromContext(ctx)
	if selicErr != nil {
		rec.InterestRate = fallbackSelic
		rec.Estimated = append(rec.Estimated, "interest_rate")
		observability.DegradationsTotal.WithLabelValues("interest_rate").Inc()
		logger.Warn("selic unavailable, using fallback", zap.Error(selicErr))
	}
	if ipcaErr != nil {
		rec.Inflation = fallbackIPCA
		rec.Estimated = append(rec.Estimated, "inflation")
		observability.DegradationsTotal.WithLabelValues("inflation").Inc()
		logger.Warn("ipca unavailable, using fallback", zap.Error(ipcaErr))
	}
	return rec, nil
}

func (c *BCBClient) latest(ctx context.Context, series int) (indicator, error) {
	resp, err := c.sender.Send(ctx, Request{
		Provider: providerBCB,
		URL:      fmt.Sprintf("%s/dados/serie/bcdata.sgs.%d/dados/ultimos/1", c.baseURL, series),
		Headers:  map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return indicator{}, err
	}
	if !isSuccess(resp.StatusCode) {
		return indicator{}, fmt.Errorf("bcb series %d: %w", series, statusError(resp.StatusCode))
	}

	var points []seriesPoint
	if err := json.Unmarshal(resp.Body, &points); err != nil {
		return indicator{}, fmt.Errorf("bcb series %d: %w: %v", series, ErrMalformedResponse, err)
	}
	if len(points) == 0 {
		return indicator{}, fmt.Errorf("bcb series %d: %w: empty series", series, ErrMalformedResponse)
	}

	last := points[len(points)-1]
	v, err := strconv.ParseFloat(strings.TrimSpace(last.Valor), 64)
	if err != nil {
		return indicator{}, fmt.Errorf("bcb series %d valor %q: %w", series, last.Valor, ErrMalformedResponse)
	}
	return indicator{value: v, date: last.Data}, nil
}
