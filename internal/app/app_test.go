package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	t.Setenv("STORYBOOK_PATH", root)
	t.Setenv("CLOUDINARY_URL", "")

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestBuild_Defaults(t *testing.T) {
	a := build(t, testConfig(t))

	if a.Orchestrator == nil || a.Bus == nil || a.Ledger == nil {
		t.Fatal("app not fully wired")
	}
	if a.Stories == nil {
		t.Error("sqlite catalog store not opened")
	}
	if a.Topics != nil {
		t.Error("topics loaded without a topics file")
	}
	if _, err := os.Stat(filepath.Join(a.Config.Log.Dir, "app.log")); err != nil {
		t.Errorf("app.log not created: %v", err)
	}
}

func TestBuild_UnknownDecider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Decider = "oracle"
	if _, err := Build(context.Background(), cfg, Options{}); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("err = %v", err)
	}
}

func TestBuild_BadMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Mode = "sideways"
	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestBuild_TopicsFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "topics.yaml")
	if err := os.WriteFile(path, []byte("topics:\n  - dragons\n  - text: the sea\n    style_ref: sea.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Pipeline.TopicsFile = path

	a := build(t, cfg)
	if a.Topics.Len() != 2 {
		t.Errorf("topics = %d, want 2", a.Topics.Len())
	}
}

func TestRun_ScriptedAgentOnEmptyLedger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Decider = "scripted"
	cfg.Agent.Script = []string{"database"}

	a := build(t, cfg)
	res, err := a.Orchestrator.Run(context.Background(), pipeline.RunOptions{Mode: pipeline.ModeAgent, Trigger: "test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != pipeline.StatusDone {
		t.Fatalf("status = %s (%s): %s", res.Status, res.Reason, res.Message)
	}
	if len(res.Steps) != 1 || res.Steps[0].Stage != pipeline.StageDatabase {
		t.Errorf("steps = %+v", res.Steps)
	}
}

func TestRun_FixedEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Illustrator.Command = `printf page > "$STORYBOOK_OUT_DIR/${STORYBOOK_TASK_ID}-1.png"`

	csv := "id,text,generate_storybook,upload_storybook,is_target,pic\n1,a fox finds a hat,0,0,1,0\n"
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Ledger.Path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	a := build(t, cfg)
	ctx := context.Background()
	res, err := a.Orchestrator.Run(ctx, pipeline.RunOptions{SkipStory: true, Trigger: "test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != pipeline.StatusDone {
		t.Fatalf("status = %s (%s): %s", res.Status, res.Reason, res.Message)
	}

	tasks, err := a.Ledger.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !tasks[0].GenerateStorybook || !tasks[0].UploadStorybook {
		t.Errorf("task flags = %+v", tasks[0])
	}

	novel, err := a.Stories.Get(ctx, "0001")
	if err != nil {
		t.Fatalf("story db: %v", err)
	}
	if novel.Title != "a fox finds a hat" {
		t.Errorf("title = %q", novel.Title)
	}

	cover := filepath.Join(cfg.Assets.TargetDir, cfg.Assets.Folder, "1.png")
	if _, err := os.Stat(cover); err != nil {
		t.Errorf("cover not published: %v", err)
	}
	batch, ok, err := a.UploadLog.LastBatch()
	if err != nil || !ok || len(batch.IDs) != 1 || batch.IDs[0] != 1 {
		t.Errorf("last batch = %+v, %v, %v", batch, ok, err)
	}
}
