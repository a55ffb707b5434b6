package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/cypherpepe/prism/pkg/config"
	"github.com/cypherpepe/prism/pkg/node"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		pipelineConfigPath = flag.String("pipeline-config", "", "optional path to a pipeline tuning YAML file")
		showHelp           = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *pipelineConfigPath != "" {
		pipeline, err := config.LoadPipelineConfig(*pipelineConfigPath)
		if err != nil {
			log.Fatalf("failed to load pipeline config %s: %v", *pipelineConfigPath, err)
		}
		if err := pipeline.ValidateForEnvironment(); err != nil {
			log.Fatalf("invalid pipeline config: %v", err)
		}
		pipeline.ApplyTo(cfg)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("failed to construct node: %v", err)
	}

	log.Printf("starting prover node (prover=%v batcher=%v webserver=%v da=%s persistence=%s)",
		cfg.ProverEnabled, cfg.BatcherEnabled, cfg.WebserverEnabled, cfg.DABackend, cfg.PersistenceBackend)

	if err := n.Run(context.Background()); err != nil {
		log.Fatalf("node exited: %v", err)
	}

	log.Printf("prover node stopped")
}

func printHelp() {
	log.Print("prism prover node\n\n" +
		"Usage:\n" +
		"  prism [-pipeline-config path/to/pipeline.yaml]\n\n" +
		"Configuration is primarily read from the environment; see pkg/config.Config\n" +
		"for the full list of variables. A pipeline config YAML file may optionally\n" +
		"override sync/batch tuning parameters.\n")
}
