package main

import (
	"github.com/shoplytic/agent/agent/agents/generalinfo"
	"github.com/shoplytic/agent/agent/agents/order"
	"github.com/shoplytic/agent/agent/agents/orchestrator"
	cartx "github.com/shoplytic/agent/agent/cart"
	"github.com/shoplytic/agent/agent/commerce"
	"github.com/shoplytic/agent/agent/contract"
	"github.com/shoplytic/agent/agent/eval"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/memory"
	"github.com/shoplytic/agent/agent/retrieval"
	"github.com/shoplytic/agent/agent/tool"
	"github.com/shoplytic/agent/pkg/collector"
	configx "github.com/shoplytic/agent/pkg/config"
	_ "github.com/shoplytic/agent/pkg/logger/autoload"
	"github.com/shoplytic/agent/server"
)

type AppConfig struct {
	MemoryMaxTurns   int  `envconfig:"MEMORY_MAX_TURNS" default:"10"`
	CollectorEnabled bool `envconfig:"COLLECTOR_ENABLED" default:"false"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	completer, err := llmx.NewClient(*llmCfg)
	if err != nil {
		panic(err)
	}

	searchCfg := configx.MustNew[retrieval.Config]("SEARCH")
	searchClient, err := retrieval.NewSearchClient(*searchCfg)
	if err != nil {
		panic(err)
	}

	dbCfg := configx.MustNew[commerce.Config]("DB")
	db := commerce.NewDB(*dbCfg)
	defer db.Close()
	store := commerce.NewStore(db)

	carts := cartx.NewStore()
	registry := tool.NewRegistry(carts, store, searchClient)
	conv := memory.NewConversation(appCfg.MemoryMaxTurns)

	handlers := []contract.Handler{
		order.New(completer, registry, *llmCfg),
		generalinfo.New(completer, registry, *llmCfg),
	}

	var opts []orchestrator.Option
	if appCfg.CollectorEnabled {
		collectorCfg := configx.MustNew[collector.Config]("COLLECTOR")
		judge := eval.NewJudge(completer, collector.MustNew(*collectorCfg), llmCfg.ModelFor("orchestrator"))
		opts = append(opts, orchestrator.WithEvaluator(judge))
	}

	orch := orchestrator.New(completer, *llmCfg, conv, handlers, opts...)

	serverCfg := configx.MustNew[server.Config]("SERVER")
	srv := server.New(*serverCfg, orch, carts, store)
	if err := srv.Run(); err != nil {
		panic(err)
	}
}
