package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-engine/config"
	"shorts-engine/types"
)

// fakeProvider records which API keys were tried and rate-limits every key
// except the ones in goodKeys.
type fakeProvider struct {
	mu       sync.Mutex
	tried    []string
	goodKeys map[string]bool
	audio    []byte
}

func (f *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("xi-api-key")
		f.mu.Lock()
		f.tried = append(f.tried, key)
		f.mu.Unlock()

		if !f.goodKeys[key] {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"rate limited"}`))
			return
		}
		resp := convertResponse{
			AudioBase64: base64.StdEncoding.EncodeToString(f.audio),
			Alignment: &Alignment{
				Characters:    []string{"h", "i"},
				CharStartSecs: []float64{0, 0.2},
				CharEndSecs:   []float64{0.2, 0.4},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, keys ...string) *Client {
	t.Helper()
	c, err := NewClient(keys, "mp3_44100_128")
	require.NoError(t, err)
	c.baseURL = srv.URL
	return c
}

func TestConvertRotatesPastRateLimitedKeys(t *testing.T) {
	provider := &fakeProvider{goodKeys: map[string]bool{"k3": true}, audio: []byte("mp3bytes")}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	c := newTestClient(t, srv, "k1", "k2", "k3")
	res, err := c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hi", "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3bytes"), res.Audio)
	require.NotNil(t, res.Alignment)
	assert.Equal(t, []string{"h", "i"}, res.Alignment.Characters)
	assert.Equal(t, []string{"k1", "k2", "k3"}, provider.tried)

	// Ring position persists across requests; the next call starts after the
	// last key used rather than from the top.
	provider.tried = nil
	provider.goodKeys["k1"] = true
	_, err = c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hi again", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, provider.tried)
}

func TestConvertExhaustsAllKeys(t *testing.T) {
	provider := &fakeProvider{goodKeys: map[string]bool{}}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	c := newTestClient(t, srv, "k1", "k2")
	_, err := c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hi", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 API keys exhausted")
	assert.Len(t, provider.tried, 2, "each key is tried exactly once per request")
}

func TestConvertIsSafeForConcurrentWorkers(t *testing.T) {
	provider := &fakeProvider{
		goodKeys: map[string]bool{"k1": true, "k2": true, "k3": true},
		audio:    []byte("mp3bytes"),
	}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	c := newTestClient(t, srv, "k1", "k2", "k3")

	const workers, perWorker = 4, 5
	errs := make(chan error, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hi", "", "")
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, provider.tried, workers*perWorker, "each request consumes exactly one ring position")
}

func TestConvertDropsInconsistentAlignment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(convertResponse{
			AudioBase64: base64.StdEncoding.EncodeToString([]byte("mp3bytes")),
			Alignment: &Alignment{
				Characters:    []string{"h", "e", "l", "l", "o"},
				CharStartSecs: []float64{0, 0.1},
				CharEndSecs:   []float64{0.1, 0.2},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "k1")
	res, err := c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hello", "", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3bytes"), res.Audio)
	assert.Nil(t, res.Alignment, "mismatched timing arrays are unusable downstream")
}

func TestAlignmentConsistent(t *testing.T) {
	al := &Alignment{
		Characters:    []string{"h", "i"},
		CharStartSecs: []float64{0, 0.1},
		CharEndSecs:   []float64{0.1, 0.2},
	}
	assert.True(t, al.Consistent())
	al.CharEndSecs = al.CharEndSecs[:1]
	assert.False(t, al.Consistent())
}

func TestConvertRejectsEmptyText(t *testing.T) {
	c, err := NewClient([]string{"k"}, "mp3_44100_128")
	require.NoError(t, err)
	_, err = c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "", "", "")
	assert.Error(t, err)
}

func TestNewClientRequiresKeys(t *testing.T) {
	_, err := NewClient(nil, "mp3_44100_128")
	assert.Error(t, err)
}

func TestConvertRejectsEmptyAudioPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(convertResponse{AudioBase64: ""})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "k1")
	_, err := c.Convert(context.Background(), types.VoiceSettings{VoiceID: "v"}, "hi", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty audio")
}

func testStage(t *testing.T, c *Client) (*Stage, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProjectsRoot = filepath.Join(t.TempDir(), "projects")
	require.NoError(t, cfg.EnsureProjectDirs("demo"))
	st := NewStage(cfg, c)
	st.probe = func(string) (float64, error) { return 2.5, nil }
	return st, cfg
}

func TestSynthesizeWritesClipAndSidecar(t *testing.T) {
	provider := &fakeProvider{goodKeys: map[string]bool{"k1": true}, audio: []byte("mp3bytes")}
	srv := httptest.NewServer(provider.handler())
	defer srv.Close()

	st, _ := testStage(t, newTestClient(t, srv, "k1"))
	shot := types.Shot{Index: 3, Narration: "hi", Voice: types.VoiceSettings{VoiceID: "v"}}

	clip, err := st.Synthesize(context.Background(), "demo", "A", shot, "", "next line")
	require.NoError(t, err)
	assert.Equal(t, st.ClipPath("demo", "A", 3), clip.Path)
	assert.Equal(t, 2.5, clip.Duration)

	data, err := os.ReadFile(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3bytes"), data)

	sc, err := st.LoadSidecar("demo", "A", 3)
	require.NoError(t, err)
	assert.Equal(t, 2.5, sc.DurationSec)
	assert.NotEmpty(t, sc.Fingerprint)
	require.NotNil(t, sc.Alignment)
	assert.Equal(t, []string{"h", "i"}, sc.Alignment.Characters)
}

func TestSynthesizeRejectsBlankNarration(t *testing.T) {
	st, _ := testStage(t, &Client{keys: []string{"k"}, httpClient: http.DefaultClient})
	shot := types.Shot{Index: 1, Narration: "   "}

	_, err := st.Synthesize(context.Background(), "demo", "A", shot, "", "")
	var serr *SynthesisError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, serr.Shot)
}

func TestClipAndSidecarPaths(t *testing.T) {
	st, cfg := testStage(t, &Client{keys: []string{"k"}})
	assert.Equal(t, filepath.Join(cfg.AudioDir("demo"), "A_shot_007.mp3"), st.ClipPath("demo", "A", 7))
	assert.Equal(t, filepath.Join(cfg.AudioDir("demo"), "A_shot_007.json"), st.SidecarPath("demo", "A", 7))
}
