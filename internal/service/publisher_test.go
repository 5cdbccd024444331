package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhoopInc/mkwheelhouse/internal/builder"
	"github.com/WhoopInc/mkwheelhouse/internal/index"
	"github.com/WhoopInc/mkwheelhouse/internal/notify"
	"github.com/WhoopInc/mkwheelhouse/internal/objectstore"
	"github.com/WhoopInc/mkwheelhouse/internal/runner"
)

const (
	testBucket   = "wheels"
	testIndexURL = "https://s3.amazonaws.com/wheels/py3/index.html"
)

func argAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("%s not in %v", flag, args)
	return ""
}

// pipWrites fakes a pip run that leaves the named files in --wheel-dir.
func pipWrites(t *testing.T, builtDirs *[]string, names ...string) func(runner.Command) error {
	return func(c runner.Command) error {
		dir := argAfter(t, c.Args, "--wheel-dir")
		*builtDirs = append(*builtDirs, dir)
		for _, n := range names {
			if err := os.WriteFile(filepath.Join(dir, n), []byte("wheel "+n), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

type harness struct {
	store  *objectstore.MemoryBackend
	runner *runner.FakeRunner
	pub    *Publisher
	dirs   []string
}

func newHarness(t *testing.T, wheels ...string) *harness {
	h := &harness{store: objectstore.NewMemoryBackend()}
	h.store.AddBucket(testBucket, "")
	h.runner = &runner.FakeRunner{}
	h.runner.Hook = pipWrites(t, &h.dirs, wheels...)
	h.pub = &Publisher{
		Store:   h.store,
		Builder: &builder.Driver{Runner: h.runner, WorkDir: t.TempDir(), Log: zerolog.Nop()},
		Log:     zerolog.Nop(),
	}
	return h
}

func (h *harness) index(t *testing.T) []index.Link {
	t.Helper()
	obj, ok := h.store.Object(testBucket, "py3/index.html")
	require.True(t, ok, "index.html missing")
	links, err := index.Parse(bytes.NewReader(obj.Data))
	require.NoError(t, err)
	return links
}

func request(pkgs ...string) Request {
	return Request{Bucket: testBucket + "/py3", Packages: pkgs}
}

func TestPublishBuildsSyncsAndIndexes(t *testing.T) {
	h := newHarness(t, "six-1.16.0-py2.py3-none-any.whl")
	res, err := h.pub.Publish(context.Background(), request("six"))
	require.NoError(t, err)

	assert.Equal(t, testIndexURL, res.IndexURL)
	assert.Equal(t, []string{"py3/six-1.16.0-py2.py3-none-any.whl"}, res.Uploaded)
	require.Len(t, res.Wheels, 1)
	assert.Equal(t, StateDone, h.pub.State())

	require.Len(t, h.runner.Calls, 1)
	call := h.runner.Calls[0]
	assert.Equal(t, "pip", call.Name)
	assert.Equal(t, testIndexURL, argAfter(t, call.Args, "--find-links"))
	assert.Equal(t, "six", call.Args[len(call.Args)-1])

	links := h.index(t)
	require.Len(t, links, 1)
	assert.Equal(t, index.Link{
		Href: "https://s3.amazonaws.com/wheels/py3/six-1.16.0-py2.py3-none-any.whl",
		Text: "six-1.16.0-py2.py3-none-any.whl",
	}, links[0])

	obj, _ := h.store.Object(testBucket, "py3/index.html")
	assert.Equal(t, "text/html; charset=utf-8", obj.ContentType)
	assert.Equal(t, objectstore.ACLPrivate, obj.ACL)
}

func TestPublishAppliesExclusions(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl", "b-1.0-py3-none-any.whl")
	req := request("a", "b")
	req.Excludes = []string{"a-*"}
	res, err := h.pub.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"py3/b-1.0-py3-none-any.whl"}, res.Uploaded)
	_, ok := h.store.Object(testBucket, "py3/a-1.0-py3-none-any.whl")
	assert.False(t, ok)

	links := h.index(t)
	require.Len(t, links, 1)
	assert.Equal(t, "b-1.0-py3-none-any.whl", links[0].Text)
}

func TestPublishSeedsMissingIndexBeforeBuild(t *testing.T) {
	h := newHarness(t)
	var seen []index.Link
	h.runner.Hook = func(c runner.Command) error {
		obj, ok := h.store.Object(testBucket, "py3/index.html")
		if !ok {
			return errors.New("index not seeded before build")
		}
		links, err := index.Parse(bytes.NewReader(obj.Data))
		seen = links
		return err
	}
	_, err := h.pub.Publish(context.Background(), Request{Bucket: testBucket + "/py3", Requirements: []string{"requirements.txt"}})
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.Equal(t, "requirements.txt", argAfter(t, h.runner.Calls[0].Args, "-r"))
	assert.Empty(t, h.index(t))
}

func TestPublishKeepsExistingIndexUntilRegenerated(t *testing.T) {
	h := newHarness(t)
	existing := []byte("<html>old</html>")
	require.NoError(t, h.store.PutObject(context.Background(), testBucket, "py3/index.html", bytes.NewReader(existing), int64(len(existing)), objectstore.PutOptions{}))
	h.store.Puts = nil

	var during []byte
	h.runner.Hook = func(runner.Command) error {
		obj, _ := h.store.Object(testBucket, "py3/index.html")
		during = obj.Data
		return nil
	}
	_, err := h.pub.Publish(context.Background(), request("six"))
	require.NoError(t, err)
	assert.Equal(t, existing, during, "an existing index must not be replaced by the placeholder")
	assert.Equal(t, []string{"py3/index.html"}, h.store.Puts)
}

func TestPublishIndexesOnlyWheelsDirectlyUnderPrefix(t *testing.T) {
	h := newHarness(t, "new-2.0-py3-none-any.whl")
	h.store.Touch(testBucket,
		"py3/old-1.0-py3-none-any.whl",
		"py3/notes.txt",
		"py3/archive/older-0.1-py3-none-any.whl",
		"py37/other-1.0-py3-none-any.whl",
		"top-1.0-py3-none-any.whl",
	)
	res, err := h.pub.Publish(context.Background(), request("new"))
	require.NoError(t, err)

	var names []string
	for _, l := range h.index(t) {
		names = append(names, l.Text)
	}
	assert.ElementsMatch(t, []string{"new-2.0-py3-none-any.whl", "old-1.0-py3-none-any.whl"}, names)
	assert.Len(t, res.Wheels, 2)
}

func TestPublishIsIdempotent(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl", "b-1.0-py3-none-any.whl")
	ctx := context.Background()

	_, err := h.pub.Publish(ctx, request("a", "b"))
	require.NoError(t, err)
	first, _ := h.store.Object(testBucket, "py3/index.html")
	keys := h.store.Keys(testBucket)

	_, err = h.pub.Publish(ctx, request("a", "b"))
	require.NoError(t, err)
	second, _ := h.store.Object(testBucket, "py3/index.html")

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, keys, h.store.Keys(testBucket))
	assert.Equal(t, []string{
		"py3/a-1.0-py3-none-any.whl",
		"py3/b-1.0-py3-none-any.whl",
		"py3/index.html",
	}, keys)
}

func TestPublishUsesBucketRegionForURLs(t *testing.T) {
	h := newHarness(t, "torch-2.1.0+cpu-cp311-cp311-linux_x86_64.whl")
	h.store.AddBucket("eu-wheels", "EU")
	res, err := h.pub.Publish(context.Background(), Request{Bucket: "s3://eu-wheels", Packages: []string{"torch"}, ACL: "public-read"})
	require.NoError(t, err)

	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com/eu-wheels/index.html", res.IndexURL)
	require.Len(t, res.Wheels, 1)
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com/eu-wheels/torch-2.1.0%2Bcpu-cp311-cp311-linux_x86_64.whl", res.Wheels[0].URL)
	obj, ok := h.store.Object("eu-wheels", "torch-2.1.0+cpu-cp311-cp311-linux_x86_64.whl")
	require.True(t, ok)
	assert.Equal(t, objectstore.ACLPublicRead, obj.ACL)
	assert.Equal(t, 1, h.store.LocationCalls)
}

func TestPublishRejectsUsageErrorsWithoutNetwork(t *testing.T) {
	cases := map[string]Request{
		"no packages":  {Bucket: testBucket},
		"no bucket":    {Packages: []string{"six"}},
		"bad acl":      {Bucket: testBucket, Packages: []string{"six"}, ACL: "world-writable"},
		"bad excludes": {Bucket: testBucket, Packages: []string{"six"}, Excludes: []string{"[a-"}},
		"parent glob":  {Bucket: testBucket, Packages: []string{"six"}, Excludes: []string{"../*"}},
		"nested glob":  {Bucket: testBucket, Packages: []string{"six"}, Excludes: []string{"sub/*"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.pub.Publish(context.Background(), req)
			require.ErrorIs(t, err, ErrUsage)
			assert.Equal(t, StateAborted, h.pub.State())
			assert.Zero(t, h.store.LocationCalls)
			assert.Empty(t, h.runner.Calls)
		})
	}
}

func TestRequestValidateRejectsPathExclusions(t *testing.T) {
	for _, p := range []string{"../*", "sub/*"} {
		req := Request{Bucket: testBucket, Packages: []string{"six"}, Excludes: []string{p}}
		assert.ErrorIs(t, req.Validate(), ErrUsage, p)
	}
}

func TestPublishAbortsOnBuildFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.Err = &runner.ExitError{Command: "pip", Code: 1, Err: errors.New("exit status 1")}
	h.runner.Log = "ERROR: Could not find a version that satisfies the requirement nope\n"

	_, err := h.pub.Publish(context.Background(), request("nope"))
	var be *builder.BuildError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, err.Error(), "Could not find a version")
	assert.Equal(t, StateAborted, h.pub.State())
	assert.Equal(t, []string{"py3/index.html"}, h.store.Keys(testBucket))
	assert.Empty(t, h.index(t))
}

// failingPuts rejects uploads of keys with the given suffix.
type failingPuts struct {
	*objectstore.MemoryBackend
	suffix string
}

func (f failingPuts) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts objectstore.PutOptions) error {
	if strings.HasSuffix(key, f.suffix) {
		return errors.New("access denied")
	}
	return f.MemoryBackend.PutObject(ctx, bucket, key, body, size, opts)
}

func TestPublishRemovesBuildDirOnAbort(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl")
	h.pub.Store = failingPuts{MemoryBackend: h.store, suffix: ".whl"}

	_, err := h.pub.Publish(context.Background(), request("a"))
	require.Error(t, err)
	var opErr *objectstore.Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "put", opErr.Op)
	assert.Equal(t, StateAborted, h.pub.State())

	require.Len(t, h.dirs, 1)
	_, statErr := os.Stat(h.dirs[0])
	assert.True(t, os.IsNotExist(statErr), "build dir must be removed on abort")
	assert.Empty(t, h.index(t), "index must stay the placeholder")
}

func TestPublishRemovesBuildDirOnSuccess(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl")
	_, err := h.pub.Publish(context.Background(), request("a"))
	require.NoError(t, err)
	require.Len(t, h.dirs, 1)
	_, statErr := os.Stat(h.dirs[0])
	assert.True(t, os.IsNotExist(statErr))
}

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestPublishNotifiesAndToleratesSinkFailure(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl")
	rec := &recordingNotifier{err: errors.New("sink down")}
	h.pub.Notifier = rec

	res, err := h.pub.Publish(context.Background(), request("a"))
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, testBucket, ev.Bucket)
	assert.Equal(t, "py3", ev.Prefix)
	assert.Equal(t, res.IndexURL, ev.IndexURL)
	assert.Equal(t, []string{"a-1.0-py3-none-any.whl"}, ev.Wheels)
	assert.Equal(t, StateDone, h.pub.State())
}

func TestPublishLogsStateTransitions(t *testing.T) {
	h := newHarness(t, "a-1.0-py3-none-any.whl")
	var buf bytes.Buffer
	h.pub.Log = zerolog.New(&buf).Level(zerolog.DebugLevel)

	_, err := h.pub.Publish(context.Background(), request("a"))
	require.NoError(t, err)
	out := buf.String()
	for _, s := range []State{StateInit, StateResolve, StateCheckIndexExists, StateBuild, StateSync, StatePublishIndex, StateNotify, StateDone} {
		assert.Contains(t, out, `"to":"`+string(s)+`"`)
	}
}
