package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/jobs"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/oops"
	"github.com/soch-community/sochbot/src/utils"
)

const (
	RootText   = "SOCH Bot is running!"
	HealthText = "OK"
)

var pings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "soch_health_pings_total",
	Help: "Pings sent to the external uptime monitor, by outcome.",
}, []string{"outcome"})

func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, RootText)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, HealthText)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serves the liveness endpoints and metrics until the job is canceled.
func RunServer(addr string) *jobs.Job {
	if addr == "" {
		logging.Info().Msg("No health address was configured, so the health server will not run.")
		return jobs.Noop()
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return jobs.Run("health server", func(ctx context.Context) {
		log := logging.ExtractLogger(ctx)

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Health server did not shut down gracefully")
			}
		}()

		log.Info().Str("addr", addr).Msg("Serving health checks")
		err := server.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health server shut down unexpectedly")
		}
	})
}

/*
Pings an external uptime monitor on an interval, so that the monitor notices
if the bot stops. The first ping goes out immediately.
*/
func RunPinger(url string, interval time.Duration) *jobs.Job {
	if url == "" {
		return jobs.Noop()
	}
	interval = utils.OrDefault(interval, time.Minute)

	return jobs.Run("health pinger", func(ctx context.Context) {
		log := logging.ExtractLogger(ctx)
		log.Info().Str("url", url).Dur("interval", interval).Msg("Pinging uptime monitor")

		client := &http.Client{Timeout: 10 * time.Second}
		ticker := utils.NewInstaTicker(ctx, interval)
		defer ticker.Stop()

		for range ticker.C {
			if err := ping(ctx, client, url); err != nil {
				pings.WithLabelValues("failed").Inc()
				log.Warn().Err(err).Msg("Uptime ping failed")
			} else {
				pings.WithLabelValues("ok").Inc()
			}
		}
	})
}

func ping(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 400 {
		return oops.New(nil, "uptime monitor returned %d", res.StatusCode)
	}
	return nil
}

// Convenience for the bot command.
func RunFromConfig() jobs.Jobs {
	cfg := config.Config.Health
	return jobs.Jobs{
		RunServer(cfg.Addr),
		RunPinger(cfg.PingURL, cfg.PingInterval),
	}
}
