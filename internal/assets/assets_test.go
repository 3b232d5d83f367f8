package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/ledger"
)

var exts = []string{"jpg", "png"}

func stage(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanGroups(t *testing.T) {
	dir := t.TempDir()
	stage(t, dir, "3-2.png", "3-1.png", "10-1.jpg", "cover-1.png", "4-1.txt")

	groups, err := ScanGroups(dir, exts)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].ID != 3 || groups[1].ID != 10 {
		t.Errorf("ids = %d,%d", groups[0].ID, groups[1].ID)
	}
	if filepath.Base(groups[0].Cover()) != "3-1.png" || len(groups[0].Files) != 2 {
		t.Errorf("group 3 = %+v", groups[0])
	}
}

type recordingBackend struct {
	published []int
	fail      map[int]bool
}

func (r *recordingBackend) Name() string { return "fake" }

func (r *recordingBackend) Publish(_ context.Context, g Group) error {
	if r.fail[g.ID] {
		return errors.New("host down")
	}
	r.published = append(r.published, g.ID)
	return nil
}

func TestUploadPending(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "not_done")
	done := filepath.Join(root, "done")
	stage(t, staging, "1-1.png", "1-2.png", "2-1.png", "3-1.png")

	log := ledger.NewUploadLog(filepath.Join(root, "upload_done.md"))
	backend := &recordingBackend{fail: map[int]bool{2: true}}
	u := NewUploader(backend, log, staging, done, exts)

	ids, err := u.UploadPending(context.Background())
	if err == nil || !strings.Contains(err.Error(), "task 2") {
		t.Fatalf("err = %v, want task 2 failure", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3]", ids)
	}

	batch, ok, err := log.LastBatch()
	if err != nil || !ok {
		t.Fatalf("LastBatch: %v %v", ok, err)
	}
	if len(batch.IDs) != 2 || batch.IDs[0] != 1 || batch.IDs[1] != 3 {
		t.Errorf("logged ids = %v", batch.IDs)
	}
	if _, err := os.Stat(filepath.Join(done, "1-2.png")); err != nil {
		t.Errorf("1-2.png not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, "2-1.png")); err != nil {
		t.Errorf("failed group should stay staged: %v", err)
	}
}

func TestUploadPending_NothingStagedStillMarksBatch(t *testing.T) {
	root := t.TempDir()
	log := ledger.NewUploadLog(filepath.Join(root, "upload_done.md"))
	u := NewUploader(&recordingBackend{}, log, filepath.Join(root, "missing"), filepath.Join(root, "done"), exts)

	ids, err := u.UploadPending(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("UploadPending = %v, %v", ids, err)
	}
	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), ledger.BatchMarker) || strings.Count(string(data), "\n") != 1 {
		t.Errorf("log = %q", data)
	}
}

func TestDirBackend(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "not_done")
	target := filepath.Join(root, "published")
	stage(t, staging, "5-1.png", "5-2.png")

	u, err := New(config.AssetsConfig{
		Driver: "dir", StagingDir: staging, DoneDir: filepath.Join(root, "done"),
		Folder: "comic1", TargetDir: target,
	}, ledger.NewUploadLog(filepath.Join(root, "log.md")), exts)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := u.UploadPending(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("UploadPending = %v, %v", ids, err)
	}
	for _, p := range []string{"comic1/5.png", "comic1/5/5-1.png", "comic1/5/5-2.png"} {
		if _, err := os.Stat(filepath.Join(target, p)); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	cover, _ := os.ReadFile(filepath.Join(target, "comic1/5.png"))
	if string(cover) != "5-1.png" {
		t.Errorf("cover content = %q", cover)
	}

	// A group already published is recorded without another copy.
	stage(t, staging, "5-3.png")
	ids, err = u.UploadPending(context.Background())
	if err != nil || len(ids) != 1 {
		t.Fatalf("second UploadPending = %v, %v", ids, err)
	}
	if _, err := os.Stat(filepath.Join(target, "comic1/5/5-3.png")); !os.IsNotExist(err) {
		t.Errorf("5-3.png should not be republished: %v", err)
	}
}

type fakeUploadAPI struct {
	calls  []uploader.UploadParams
	failOn string
}

func (f *fakeUploadAPI) Upload(_ context.Context, _ interface{}, p uploader.UploadParams) (*uploader.UploadResult, error) {
	f.calls = append(f.calls, p)
	res := &uploader.UploadResult{PublicID: p.Folder + "/" + p.PublicID}
	if p.PublicID == f.failOn {
		res.Error = api.ErrorResp{Message: "quota exceeded"}
	}
	return res, nil
}

func TestCloudinaryBackend_Layout(t *testing.T) {
	fake := &fakeUploadAPI{}
	c := &CloudinaryBackend{api: fake, folder: "comic1"}
	g := Group{ID: 8, Files: []string{"/s/8-1.png", "/s/8-2.png"}}

	if err := c.Publish(context.Background(), g); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := []string{"comic1/8", "comic1/8/8-1", "comic1/8/8-2"}
	if len(fake.calls) != len(want) {
		t.Fatalf("calls = %+v", fake.calls)
	}
	for i, w := range want {
		if got := fake.calls[i].Folder + "/" + fake.calls[i].PublicID; got != w {
			t.Errorf("call %d = %s, want %s", i, got, w)
		}
	}

	fake = &fakeUploadAPI{failOn: "8-2"}
	c.api = fake
	if err := c.Publish(context.Background(), g); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestNewCloudinary_MissingCredentials(t *testing.T) {
	for _, k := range []string{EnvCloudName, EnvAPIKey, EnvAPISecret, "NEXT_PUBLIC_CLOUDINARY_CLOUD_NAME", "CLOUDINARY_URL"} {
		t.Setenv(k, "")
	}
	if _, err := NewCloudinary(config.CloudinaryConfig{}, "comic1"); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v", err)
	}
	c, err := NewCloudinary(config.CloudinaryConfig{CloudName: "demo", APIKey: "k", APISecret: "s"}, "comic1")
	if err != nil || c.Name() != "cloudinary" {
		t.Errorf("NewCloudinary = %v, %v", c, err)
	}
}

func TestUploadPending_PartialMoveKeepsGroupStaged(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "not_done")
	done := filepath.Join(root, "done")
	stage(t, staging, "7-1.png", "7-2.png")
	// a directory in the way makes the second rename fail
	if err := os.MkdirAll(filepath.Join(done, "7-2.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	log := ledger.NewUploadLog(filepath.Join(root, "upload_done.md"))
	u := NewUploader(&recordingBackend{}, log, staging, done, exts)

	ids, err := u.UploadPending(context.Background())
	if err == nil || len(ids) != 0 {
		t.Fatalf("UploadPending = %v, %v; want failure for task 7", ids, err)
	}
	for _, name := range []string{"7-1.png", "7-2.png"} {
		if _, err := os.Stat(filepath.Join(staging, name)); err != nil {
			t.Errorf("%s not back in staging: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(done, "7-1.png")); !os.IsNotExist(err) {
		t.Errorf("7-1.png left in done dir: %v", err)
	}
	batch, _, err := log.LastBatch()
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.IDs) != 0 {
		t.Errorf("log records %v for a failed move", batch.IDs)
	}
}
