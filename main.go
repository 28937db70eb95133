package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	llmx "github.com/fitlabs/respond-agent/agent/llm"
	"github.com/fitlabs/respond-agent/agent/pipeline"
	promptx "github.com/fitlabs/respond-agent/agent/prompt"
	statex "github.com/fitlabs/respond-agent/agent/state"
	toolx "github.com/fitlabs/respond-agent/agent/tool"
	backendx "github.com/fitlabs/respond-agent/pkg/backend"
	configx "github.com/fitlabs/respond-agent/pkg/config"
	_ "github.com/fitlabs/respond-agent/pkg/logger/autoload"
	openrouterx "github.com/fitlabs/respond-agent/pkg/openrouter"
	pineconex "github.com/fitlabs/respond-agent/pkg/pinecone"
	qstashx "github.com/fitlabs/respond-agent/pkg/qstash"
	telegramx "github.com/fitlabs/respond-agent/pkg/telegram"
	wazzupx "github.com/fitlabs/respond-agent/pkg/wazzup"
	serverx "github.com/fitlabs/respond-agent/server"
)

type AppConfig struct {
	// Venues is a "venueID=display name" comma-separated list.
	Venues             string `envconfig:"VENUES" split_words:"true" required:"true"`
	ScheduleTimezone   string `envconfig:"SCHEDULE_TIMEZONE" split_words:"true" default:"Asia/Yekaterinburg"`
	ToolTimeout        time.Duration `envconfig:"TOOL_TIMEOUT" split_words:"true" default:"15s"`
	EscalationRetryURL string `envconfig:"ESCALATION_RETRY_URL" split_words:"true"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("APP")

	loc, err := time.LoadLocation(appCfg.ScheduleTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("tz", appCfg.ScheduleTimezone).Msg("invalid schedule timezone")
	}

	backend := backendx.MustNew(*configx.MustNew[backendx.Config]("BACKEND"))

	store, err := statex.NewUpstashRedisStore(*configx.MustNew[statex.UpstashRedisConfig]("REDIS"))
	if err != nil {
		log.Fatal().Err(err).Msg("init state store")
	}

	var msgLog contractx.MessageLogger = backend
	if os.Getenv("ARCHIVE_DSN") != "" {
		archive, err := statex.NewMessageArchive(*configx.MustNew[statex.ArchiveConfig]("ARCHIVE"))
		if err != nil {
			log.Fatal().Err(err).Msg("init message archive")
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("ensure archive schema")
		}
		defer archive.Close()
		msgLog = archive
	}

	venues := toolx.NewVenueDirectory(parseVenues(appCfg.Venues))

	tools := []toolx.Tool{
		toolx.NewScheduleTool(backend, toolx.ScheduleToolConfig{
			Venues:   venues,
			Location: loc,
		}),
		toolx.NewPaymentTool(backend, toolx.PaymentToolConfig{
			Venues: venues,
		}),
	}

	if os.Getenv("PINECONE_HOST") != "" {
		index := pineconex.MustNew(*configx.MustNew[pineconex.Config]("PINECONE"))
		embedder := openrouterx.NewEmbeddingClient(*configx.MustNew[openrouterx.EmbeddingConfig]("OPENAI"))
		tools = append(tools, toolx.NewKnowledgeTool(toolx.NewVectorSearcher(embedder, index)))
	}

	registry, err := toolx.NewRegistry(appCfg.ToolTimeout, tools...)
	if err != nil {
		log.Fatal().Err(err).Msg("init tool registry")
	}

	prompts, err := promptx.NewBuilder(promptx.LoadSet())
	if err != nil {
		log.Fatal().Err(err).Msg("init prompt builder")
	}

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}

	genBuilder := llmCfg.OpenRouterFor(llmx.RoleGenerator)
	generator, err := llmx.NewGenerator(ctx, &genBuilder, registry, llmCfg.MaxToolDepth, llmCfg.FallbackResponse)
	if err != nil {
		log.Fatal().Err(err).Msg("init generator")
	}

	humBuilder := llmCfg.OpenRouterFor(llmx.RoleHumanizer)
	humanizer, err := llmx.NewHumanizer(ctx, &humBuilder, prompts, time.Now)
	if err != nil {
		log.Fatal().Err(err).Msg("init humanizer")
	}

	deliverer := wazzupx.MustNew(*configx.MustNew[wazzupx.Config]("WAZZUP"))
	notifier := telegramx.MustNew(*configx.MustNew[telegramx.Config]("TELEGRAM"))

	var publisher contractx.Publisher
	if os.Getenv("QSTASH_URL") != "" {
		publisher = qstashx.MustNew(*configx.MustNew[qstashx.Config]("QSTASH"))
	}

	engine, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Provider:  backend,
		Prompts:   prompts,
		Generator: generator,
		Humanizer: humanizer,
		Deliverer: deliverer,
		Notifier:  notifier,
		Publisher: publisher,
		MsgLog:    msgLog,
	}, pipeline.Config{
		EscalationRetryDestination: appCfg.EscalationRetryURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init pipeline engine")
	}

	srvCfg := configx.MustNew[serverx.Config]("SERVER")
	srv, err := serverx.New(engine, store, *srvCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init http server")
	}

	log.Info().Str("addr", srvCfg.Addr).Msg("respond agent listening")
	if err := http.ListenAndServe(srvCfg.Addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

func parseVenues(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if id != "" && name != "" {
			out[id] = name
		}
	}
	return out
}
