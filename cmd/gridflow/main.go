package main

import (
	"context"
	"flag"
	"io/ioutil"
	"log"

	"github.com/phasorlab/gridflow/internal/pkg/database/mongodb"
	"github.com/phasorlab/gridflow/internal/pkg/network"
	"github.com/phasorlab/gridflow/internal/pkg/solver"
	"github.com/phasorlab/gridflow/internal/pkg/solver/natssolver"
)

func main() {
	modelPath := flag.String("model", "./config/network.json", "serialized network model")
	solverPath := flag.String("solver", "./config/natssolver.json", "solver client config")
	storePath := flag.String("store", "", "optional mongodb store config")
	resultsPath := flag.String("out", "", "write the result export to this path")
	flag.Parse()

	log.Println("[Main] Starting gridflow v0.1.0")

	log.Println("[Main] Loading network model")
	doc, err := ioutil.ReadFile(*modelPath)
	if err != nil {
		log.Fatal(err)
	}
	net, err := network.UnmarshalModel(doc)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[Main] Assembled network %s with %d members", net.PID(), len(net.MemberIDs()))

	log.Println("[Main] Connecting solver")
	solverConfig, err := ioutil.ReadFile(*solverPath)
	if err != nil {
		log.Fatal(err)
	}
	client, err := natssolver.New(solverConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	log.Println("[Main] Solving")
	resp, err := net.Solve(ctx, client)
	if err != nil {
		log.Fatal(err)
	}
	if resp.Status != solver.Success {
		log.Fatalf("[Main] Solve failed: %s", resp.Message)
	}
	log.Printf("[Main] Converged in %d iterations, residual %g", resp.Iterations, resp.Residual)

	if *resultsPath != "" {
		export, err := net.MarshalResults()
		if err != nil {
			log.Fatal(err)
		}
		if err := ioutil.WriteFile(*resultsPath, export, 0644); err != nil {
			log.Fatal(err)
		}
		log.Printf("[Main] Results written to %s", *resultsPath)
	}

	if *storePath != "" {
		log.Println("[Main] Snapshotting to MongoDB")
		storeConfig, err := ioutil.ReadFile(*storePath)
		if err != nil {
			log.Fatal(err)
		}
		store, err := mongodb.New(ctx, storeConfig)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close(ctx)
		if err := store.SaveModel(ctx, net.PID(), doc); err != nil {
			log.Fatal(err)
		}
		if export, err := net.MarshalResults(); err == nil {
			if err := store.SaveResults(ctx, net.PID(), export); err != nil {
				log.Fatal(err)
			}
		}
	}
}
