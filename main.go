package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shorts-engine/assemble"
	"shorts-engine/blueprint"
	"shorts-engine/config"
	"shorts-engine/effects"
	"shorts-engine/pipeline"
	"shorts-engine/publish"
	"shorts-engine/stagetrack"
	"shorts-engine/synth"
	"shorts-engine/types"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  new       install a draft blueprint:   new -project P -version A [-new-draft] blueprint.json
  finalize  promote draft to final:      finalize -project P -version A
  audio     synthesize shot audio:       audio -project P -version A
  effects   render shot visuals:         effects -project P -version A
  assemble  build the final video:       assemble -project P -version A
  run       full pipeline:               run -project P -version A
  publish   upload the final to YouTube: publish -project P -version A
  status    show per-shot stage records: status -project P -version A

Every command is safely re-runnable: unaffected shots are skipped, changed
ones are recomputed.
`, os.Args[0])
	os.Exit(2)
}

func main() {
	// .env for local dev; CI supplies real env vars.
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	project := fs.String("project", "", "project name (required)")
	version := fs.String("version", "A", "A/B version identifier")
	configPath := fs.String("config", "config.yaml", "config file path")
	newDraft := fs.Bool("new-draft", false, "allow replacing a finalized blueprint with a different shot count")
	_ = fs.Parse(os.Args[2:])

	if *project == "" {
		fmt.Fprintln(os.Stderr, "error: -project is required")
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, command, cfg, *project, *version, *newDraft, fs.Args()); err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

func dispatch(ctx context.Context, command string, cfg *config.Config, project, version string, newDraft bool, args []string) error {
	store := blueprint.NewStore(cfg)

	switch command {
	case "new":
		if len(args) != 1 {
			return fmt.Errorf("new needs exactly one blueprint JSON file argument")
		}
		return cmdNew(store, project, version, newDraft, args[0])

	case "finalize":
		_, err := store.Finalize(project, version)
		return err

	case "status":
		return cmdStatus(ctx, cfg, project, version)

	case "publish":
		return cmdPublish(ctx, cfg, store, project, version)

	case "audio", "effects", "assemble", "run":
		if err := cfg.EnsureProjectDirs(project); err != nil {
			return err
		}
		tracker, err := stagetrack.Open(stateDBPath(cfg, project))
		if err != nil {
			return err
		}
		defer tracker.Close()

		p, err := buildPipeline(cfg, store, tracker, commandNeedsTTS(command))
		if err != nil {
			return err
		}

		var report *pipeline.Report
		switch command {
		case "audio":
			report, err = p.RunAudio(ctx, project, version)
		case "effects":
			report, err = p.RunEffects(ctx, project, version)
		case "assemble":
			report, err = p.RunAssemble(ctx, project, version)
		case "run":
			report, err = p.RunAll(ctx, project, version)
		}
		if report != nil {
			for _, f := range report.Failures {
				log.Error().Int("shot", f.Shot).Str("stage", f.Stage).Err(f.Err).Msg("shot failed")
			}
		}
		return err

	default:
		usage()
		return nil
	}
}

// commandNeedsTTS reports whether a command can reach the audio stage.
// effects and assemble only read sidecars written by earlier runs, so they
// work without provider credentials.
func commandNeedsTTS(command string) bool {
	return command == "audio" || command == "run"
}

// buildPipeline wires the real stages. The synthesis client only needs keys
// when a command can reach the audio stage.
func buildPipeline(cfg *config.Config, store *blueprint.Store, tracker *stagetrack.Tracker, needsTTS bool) (*pipeline.Pipeline, error) {
	var synthStage *synth.Stage
	if needsTTS {
		client, err := synth.NewClient(config.APIKeys(), cfg.Audio.OutputFormat)
		if err != nil {
			return nil, err
		}
		synthStage = synth.NewStage(cfg, client)
	} else {
		synthStage = synth.NewStage(cfg, nil)
	}
	return pipeline.New(cfg, store, tracker,
		synthStage,
		effects.NewStage(cfg),
		assemble.NewAssembler(cfg),
	), nil
}

func cmdNew(store *blueprint.Store, project, version string, newDraft bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var bp types.Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return fmt.Errorf("parse blueprint %s: %w", path, err)
	}
	bp.Project = project
	bp.Version = version
	if err := store.SaveDraft(&bp, newDraft); err != nil {
		return err
	}
	log.Info().Str("project", project).Str("version", version).
		Int("shots", len(bp.Shots)).Msg("draft blueprint saved")
	return nil
}

func cmdStatus(ctx context.Context, cfg *config.Config, project, version string) error {
	tracker, err := stagetrack.Open(stateDBPath(cfg, project))
	if err != nil {
		return err
	}
	defer tracker.Close()

	recs, err := tracker.Records(ctx, project, version)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Printf("no stage records for %s/%s\n", project, version)
		return nil
	}
	for _, rec := range recs {
		shot := fmt.Sprintf("%d", rec.Shot)
		if rec.Shot == stagetrack.AssembleShotIndex {
			shot = "-"
		}
		fmt.Printf("shot %-3s %-8s %-7s %s\n", shot, rec.Stage, rec.Status, rec.Artifact)
	}
	return nil
}

func cmdPublish(ctx context.Context, cfg *config.Config, store *blueprint.Store, project, version string) error {
	bp, err := store.LoadFinal(project, version)
	if err != nil {
		return err
	}
	finalPath := assemble.NewAssembler(cfg).FinalPath(project, version)
	if _, err := os.Stat(finalPath); err != nil {
		return fmt.Errorf("no assembled video at %s; run assemble first", finalPath)
	}
	_, url, err := publish.NewUploader(cfg).Upload(ctx, finalPath, bp)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func stateDBPath(cfg *config.Config, project string) string {
	return filepath.Join(cfg.ProjectDir(project), "state.db")
}
