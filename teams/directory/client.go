package directory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"

	"github.com/taskhive/realtime/internal/errors"
	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/internal/retry"
	"github.com/taskhive/realtime/teams"
)

// Config holds the team service client settings.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIToken  string        `mapstructure:"api_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

func Setup(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".base_url", "http://taskhive-api:3000")
	v.SetDefault(prefix+".api_token", "")
	v.SetDefault(prefix+".timeout", "10s")
	v.SetDefault(prefix+".cache_size", 1024)
	v.SetDefault(prefix+".cache_ttl", "5s")
}

type membersResponse struct {
	Members []teams.Member `json:"members"`
}

type clientImpl struct {
	http    *resty.Client
	baseURL string
	retry   retry.Retry
	logger  *log.Logger
}

// NewClient returns a Directory backed by the team service REST API.
// Transient failures are retried with exponential backoff; a 404 maps to
// ErrTeamNotFound without retrying.
func NewClient(cfg *Config, logger *log.Logger) teams.Directory {
	if logger == nil {
		panic("logger is required")
	}

	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}

	return &clientImpl{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		retry:   retry.New(logger, 100*time.Millisecond, time.Second, 3*time.Second),
		logger:  logger,
	}
}

func (c *clientImpl) Members(ctx context.Context, teamID string) ([]teams.Member, error) {
	url := fmt.Sprintf("%s/api/teams/%s/members", c.baseURL, teamID)

	var result membersResponse
	err := c.retry.Do(ctx, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get(url)
		if err != nil {
			return errors.Wrap(teams.ErrUpstream, err, "team service request failed")
		}

		switch {
		case resp.StatusCode() == http.StatusNotFound:
			// not retryable
			return retry.Permanent(errors.Newf(teams.ErrTeamNotFound, "team %s not found", teamID))
		case resp.IsError():
			return errors.Newf(teams.ErrUpstream,
				"team service returned %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Members, nil
}
