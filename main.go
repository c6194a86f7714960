package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"stem-sync/utils"
	"strconv"

	"github.com/joho/godotenv"
)

func main() {
	_ = utils.CreateFolder("tmp")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "prepare":
		prepareCmd := flag.NewFlagSet("prepare", flag.ExitOnError)
		vocalKey := prepareCmd.String("vkey", "", "musical key of the vocal take (e.g. C, F#m)")
		vocalBpm := prepareCmd.Float64("vbpm", 0, "tempo of the vocal take in BPM")
		beatKey := prepareCmd.String("bkey", "", "musical key of the backing track")
		beatBpm := prepareCmd.Float64("bbpm", 0, "tempo of the backing track in BPM")
		prepareCmd.Parse(os.Args[2:])
		if prepareCmd.NArg() < 2 || *vocalKey == "" || *beatKey == "" {
			fmt.Println("usage: stem-sync prepare -vkey <key> -vbpm <bpm> -bkey <key> -bbpm <bpm> <vocal_file> <beat_file>")
			os.Exit(1)
		}
		prepare(prepareCmd.Arg(0), prepareCmd.Arg(1), *vocalKey, *vocalBpm, *beatKey, *beatBpm)

	case "offset":
		if len(os.Args) < 4 {
			fmt.Println("usage: stem-sync offset <session_id> <beats>")
			os.Exit(1)
		}
		beats, err := strconv.ParseFloat(os.Args[3], 64)
		if err != nil || math.IsNaN(beats) || math.IsInf(beats, 0) {
			fmt.Println("offset beats must be a finite number, e.g. 0.5 or -2")
			os.Exit(1)
		}
		adjustOffset(os.Args[2], beats)

	case "finalize":
		if len(os.Args) < 3 {
			fmt.Println("usage: stem-sync finalize <session_id>")
			os.Exit(1)
		}
		finalize(os.Args[2])

	case "sessions":
		listSessions()

	case "erase":
		all := false
		if len(os.Args) > 2 {
			switch os.Args[2] {
			case "all":
				all = true
			default:
				fmt.Println("usage: stem-sync erase [all]")
				os.Exit(1)
			}
		}
		eraseSessions(all)

	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		port := serveCmd.String("p", "5000", "port to use")
		serveCmd.Parse(os.Args[2:])
		serve(*port)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: stem-sync <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  prepare -vkey <key> -vbpm <bpm> -bkey <key> -bbpm <bpm> <vocal> <beat>")
	fmt.Println("          separate stems, match key and tempo, render a first preview")
	fmt.Println("  offset <session_id> <beats>    re-render the preview with the vocal nudged")
	fmt.Println("  finalize <session_id>          commit the mix and retire the session")
	fmt.Println("  sessions                       list active sessions")
	fmt.Println("  erase [all]                    clear sessions (all: rendered mixes too)")
	fmt.Println("  serve [-p 5000]                start the web server")
}
