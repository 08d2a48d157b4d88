package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Sag21/PulseAgent/bot"
	"github.com/Sag21/PulseAgent/config"
	"github.com/Sag21/PulseAgent/digest"
	"github.com/Sag21/PulseAgent/feeds"
	"github.com/Sag21/PulseAgent/metrics"
	"github.com/Sag21/PulseAgent/newsapi"
	"github.com/Sag21/PulseAgent/scheduler"
	"github.com/Sag21/PulseAgent/scraper"
	"github.com/Sag21/PulseAgent/storage"
	"github.com/Sag21/PulseAgent/summarizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer log.Sync()

	log.Info("starting pulse agent", zap.String("timezone", cfg.Timezone))

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatal("database init failed", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer db.Close()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal("telegram init failed", zap.Error(err))
	}
	log.Info("telegram bot connected", zap.String("username", api.Self.UserName))

	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		log.Fatal("scheduler init failed", zap.Error(err))
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, m, log)
	}

	sender := bot.NewTelegramSender(api, cfg.AllowedUserIDs, log.Named("telegram"))

	collector := feeds.New(db, cfg.YouTubeChannelIDs, cfg.CustomRSSFeeds, log.Named("feeds"),
		feeds.WithTimeout(cfg.FetchTimeout))

	summarizerOpts := []summarizer.Option{
		summarizer.WithModel(cfg.OpenAIModel),
		summarizer.WithObserver(func(outcome string) {
			m.ItemsSummarized.WithLabelValues(outcome).Inc()
		}),
	}
	if cfg.OpenAIBaseURL != "" {
		summarizerOpts = append(summarizerOpts,
			summarizer.WithBaseURL(cfg.OpenAIKey, cfg.OpenAIBaseURL))
	}
	summ := summarizer.NewSummarizer(cfg.OpenAIKey, config.Categories,
		log.Named("summarizer"), summarizerOpts...)

	runnerOpts := []digest.Option{
		digest.WithMetrics(m),
		digest.WithRetention(cfg.RetentionDays),
		digest.WithSnippets(scraper.NewScraper(scraper.WithTimeout(cfg.FetchTimeout))),
	}

	if cfg.NewsAPIKey != "" {
		news := newsapi.NewClient(cfg.NewsAPIKey, config.BreakingKeywords, log.Named("newsapi"),
			newsapi.WithCountry(cfg.NewsCountry),
			newsapi.WithTimeout(cfg.FetchTimeout))
		runnerOpts = append(runnerOpts, digest.WithNews(news))
	} else {
		log.Warn("no news API key, headline and breaking collection disabled")
	}

	runner := digest.NewRunner(db, collector, summ, sender, sched.Location(),
		log.Named("digest"), runnerOpts...)

	registerJobs(sched, runner, cfg, log)
	sched.Start()
	defer sched.Stop()

	handler := bot.NewHandler(sender, runner, summ, cfg, config.Categories,
		sched.Location(), log.Named("bot"), bot.WithScheduleInfo(sched))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("listening for updates")
	poll(ctx, api, handler, log)
	log.Info("pulse agent stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func serveMetrics(addr string, m *metrics.Metrics, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	log.Info("metrics listener up", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}

// registerJobs wires the five recurring jobs. The news collector is offset by
// half its interval so it does not collide with the YouTube run.
func registerJobs(sched *scheduler.Scheduler, runner *digest.Runner, cfg *config.Config, log *zap.Logger) {
	jobs := []struct {
		name string
		add  func() error
	}{
		{"breaking_check", func() error {
			return sched.Every("breaking_check", cfg.BreakingInterval, func() {
				if _, err := runner.BreakingCheck(context.Background()); err != nil {
					log.Warn("breaking check failed", zap.Error(err))
				}
			})
		}},
		{"youtube_monitor", func() error {
			return sched.Every("youtube_monitor", cfg.FetchInterval, func() {
				if err := runner.YouTubeMonitor(context.Background()); err != nil {
					log.Warn("youtube monitor failed", zap.Error(err))
				}
			})
		}},
		{"news_collector", func() error {
			return sched.EveryOffset("news_collector", cfg.FetchInterval, cfg.FetchInterval/2, func() {
				if err := runner.NewsCollector(context.Background()); err != nil {
					log.Warn("news collection failed", zap.Error(err))
				}
			})
		}},
		{"evening_digest", func() error {
			return sched.Daily("evening_digest", cfg.EveningDigestTime, func() {
				if err := runner.EveningDigest(context.Background()); err != nil {
					log.Warn("evening digest failed", zap.Error(err))
				}
			})
		}},
		{"morning_market", func() error {
			return sched.Daily("morning_market", cfg.MorningMarketTime, func() {
				if err := runner.MorningMarket(context.Background()); err != nil {
					log.Warn("morning market failed", zap.Error(err))
				}
			})
		}},
	}

	for _, job := range jobs {
		if err := job.add(); err != nil {
			log.Fatal("job registration failed", zap.String("job", job.name), zap.Error(err))
		}
	}
}

func poll(ctx context.Context, api *tgbotapi.BotAPI, handler *bot.Handler, log *zap.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := handler.HandleUpdate(ctx, update); err != nil {
				log.Warn("update handling failed", zap.Error(err))
			}
		}
	}
}
