package main

import (
	"os"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"antow-bot/internal/approval"
	"antow-bot/internal/bot"
	"antow-bot/internal/channel"
	"antow-bot/internal/config"
	"antow-bot/internal/database"
	"antow-bot/internal/lifecycle"
	"antow-bot/internal/store"
	"antow-bot/internal/worker"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.LoadConfig()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to redis")
	}

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create bot")
	}

	subs := store.NewSubscribers(db)
	approvals := store.NewApprovals(db)
	notifier := channel.NewTelegram(tgBot, cfg.ChannelID)
	engine := lifecycle.Engine{
		GrantDays:    cfg.GrantDays,
		ReminderDays: cfg.ReminderDays,
		InviteTTL:    cfg.InviteTTL,
	}

	workflow := approval.NewWorkflow(subs, approvals, notifier, engine, cfg.AdminID, cfg.ChannelLink)
	gate := bot.NewGate(subs, notifier, workflow, engine, cfg.AdminID, cfg.PaymentLink, cfg.PaymentDetails, cfg.UnitPrice)

	sweeper := worker.NewSweeper(subs, notifier, engine, rdb, cfg.AdminID, cfg.UnitPrice, cfg.DailySweepSpec, cfg.WeeklySweepSpec)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Could not start sweep scheduler")
	}
	defer sweeper.Stop()

	b := bot.NewBot(tgBot, gate, workflow, subs, notifier, cfg.AdminID, cfg.UnitPrice)

	log.Info().Msg("Service started successfully")
	b.Start()
}
