package main

import (
	"flag"
	"log"

	"github.com/ChizhovVadim/ecgpretrain/internal/data"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var config = data.DefaultSyntheticConfig
	flag.StringVar(&config.Dir, "out", "data", "Folder to write the dataset into")
	flag.StringVar(&config.Dataset, "dataset", config.Dataset, "Dataset name")
	flag.IntVar(&config.Train, "train", config.Train, "Number of training records")
	flag.IntVar(&config.Val, "val", config.Val, "Number of validation records")
	flag.IntVar(&config.Test, "test", config.Test, "Number of test records")
	flag.IntVar(&config.NLeads, "leads", config.NLeads, "Leads per record")
	flag.IntVar(&config.NSamples, "samples", config.NSamples, "Samples per lead")
	flag.IntVar(&config.NClasses, "classes", config.NClasses, "Number of classes")
	flag.Int64Var(&config.Seed, "seed", config.Seed, "Random seed")
	flag.Parse()

	log.Printf("%+v", config)

	var err = data.WriteSynthetic(config)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("Dataset written")
}
