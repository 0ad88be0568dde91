// boxreplay applies a recorded event stream to a folder of frames, and writes the resulting annotations.
// It's useful for reproducing editor bugs, and for batch conversion between label formats.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("boxreplay", "Replay annotation events over a folder of frames")
	input := parser.String("i", "input", &argparse.Options{Help: "Directory of frames", Required: true})
	eventsFile := parser.String("e", "events", &argparse.Options{Help: "JSON file with an array of events", Required: false, Default: ""})
	importFile := parser.String("", "import", &argparse.Options{Help: "Combined text label file to load before replaying", Required: false, Default: ""})
	output := parser.File("o", "output", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664, &argparse.Options{Help: "Output label file", Required: true})
	format := parser.Selector("", "format", []string{"csv", "txt", "yolo"}, &argparse.Options{Help: "Output format", Default: "csv"})
	carry := parser.Flag("", "carry", &argparse.Options{Help: "Seed unvisited frames with the previous frame's boxes", Default: false})
	categories := parser.String("", "categories", &argparse.Options{Help: "Category map", Default: annot.YOLOTestSet.Name})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	defer output.Close()

	logger, _ := logs.NewLog()

	frameList, err := frames.ListFolder(*input)
	check(err)

	opts := annot.DefaultOptions()
	opts.CarryForward = *carry
	opts.CategoryMap = *categories
	session, err := annot.NewSession(logger, frameList, opts)
	check(err)
	defer session.Close()

	if *importFile != "" {
		f, err := os.Open(*importFile)
		check(err)
		n, err := session.ImportCombinedTXT(f)
		f.Close()
		check(err)
		logger.Infof("Loaded %v boxes from %v", n, *importFile)
	}

	if *eventsFile != "" {
		raw, err := os.ReadFile(*eventsFile)
		check(err)
		events := []annot.Event{}
		check(json.Unmarshal(raw, &events))
		for i, ev := range events {
			if err := session.Apply(ev); err != nil {
				logger.Errorf("Event %v: %v", i, err)
				os.Exit(1)
			}
		}
		logger.Infof("Replayed %v events", len(events))
	}

	switch *format {
	case "csv":
		err = session.ExportCSV(output)
	case "txt":
		err = session.ExportCombinedTXT(output)
	case "yolo":
		err = session.ExportYOLOZip(output)
	}
	check(err)
	logger.Infof("Wrote %v annotations to %v", *format, output.Name())
}
