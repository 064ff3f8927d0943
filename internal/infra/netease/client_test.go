package netease

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{APIBase: server.URL, Cookie: "MUSIC_U=test"})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresAPIBase(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "night song", r.URL.Query().Get("keywords"))
		assert.Equal(t, "1", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "MUSIC_U=test", r.Header.Get("Cookie"))

		fmt.Fprint(w, `{
			"code": 200,
			"result": {
				"songs": [
					{"id": 186016, "name": "夜曲", "artists": [{"name": "周杰伦"}], "album": {"name": "十一月的萧邦"}, "duration": 226000},
					{"id": 5, "name": "other", "artists": [{"name": "a"}, {"name": "b"}], "album": {"name": "x"}, "duration": 1000}
				],
				"songCount": 2
			}
		}`)
	})

	tracks, err := client.Search(context.Background(), "night song", 5)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "netease:186016", tracks[0].SourceRef)
	assert.Equal(t, "夜曲", tracks[0].Title)
	assert.Equal(t, "周杰伦", tracks[0].Artist)
	assert.Equal(t, "十一月的萧邦", tracks[0].Album)
	assert.Equal(t, 226*time.Second, tracks[0].Duration)
	assert.Empty(t, tracks[0].SourceURL)

	// Multiple artists are joined
	assert.Equal(t, "a/b", tracks[1].Artist)
}

func TestSearch_EmptyKeywords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.Search(context.Background(), "", 5)
	assert.Error(t, err)
}

func TestDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/song/detail", r.URL.Path)
		assert.Equal(t, "186016", r.URL.Query().Get("ids"))

		fmt.Fprint(w, `{
			"code": 200,
			"songs": [
				{"id": 186016, "name": "夜曲", "ar": [{"name": "周杰伦"}], "al": {"name": "十一月的萧邦", "picUrl": "http://img/1.jpg"}, "dt": 226000, "fee": 0}
			]
		}`)
	})

	tr, err := client.Detail(context.Background(), "186016")
	require.NoError(t, err)
	assert.Equal(t, "netease:186016", tr.SourceRef)
	assert.Equal(t, "http://img/1.jpg", tr.ArtworkURL)
	assert.Equal(t, 226*time.Second, tr.Duration)
}

func TestDetail_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code": 200, "songs": []}`)
	})

	_, err := client.Detail(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSongURL_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected error
	}{
		{
			name:     "Missing song",
			response: `{"code": 200, "data": [{"id": 1, "url": "", "code": 404}]}`,
			expected: ErrNotFound,
		},
		{
			name:     "Region restricted",
			response: `{"code": 200, "data": [{"id": 1, "url": "", "code": -110}]}`,
			expected: ErrRegionRestricted,
		},
		{
			name:     "Empty data",
			response: `{"code": 200, "data": []}`,
			expected: ErrNotFound,
		},
		{
			name:     "Empty URL without fee",
			response: `{"code": 200, "data": [{"id": 1, "url": "", "code": 200}]}`,
			expected: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.response)
			})
			_, err := client.SongURL(context.Background(), "1")
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestSongURL_PaidFallsBackToReducedBitrate(t *testing.T) {
	var bitrates []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		br := r.URL.Query().Get("br")
		bitrates = append(bitrates, br)
		if br == "999000" {
			// Paid refusal at full bitrate
			fmt.Fprint(w, `{"code": 200, "data": [{"id": 1, "url": "", "code": 200, "fee": 1}]}`)
			return
		}
		fmt.Fprint(w, `{"code": 200, "data": [{"id": 1, "url": "http://cdn/low.mp3", "code": 200, "fee": 1}]}`)
	})

	mediaURL, err := client.SongURL(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/low.mp3", mediaURL)
	assert.Equal(t, []string{"999000", "128000"}, bitrates)
}

func TestSongURL_PaidOnBothTiers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code": 200, "data": [{"id": 1, "url": "", "code": 200, "fee": 1, "freeTrialInfo": {"start": 0}}]}`)
	})

	_, err := client.SongURL(context.Background(), "1")
	assert.ErrorIs(t, err, ErrPaidContent)
}

func TestResolve(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/song/detail":
			fmt.Fprint(w, `{"code": 200, "songs": [{"id": 1, "name": "t", "ar": [{"name": "a"}], "al": {"name": "al"}, "dt": 1000}]}`)
		case "/song/url":
			fmt.Fprint(w, `{"code": 200, "data": [{"id": 1, "url": "http://cdn/t.mp3", "code": 200}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	tr, err := client.Resolve(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "t", tr.Title)
	assert.Equal(t, "http://cdn/t.mp3", tr.SourceURL)
}

func TestGet_TransientStatusCodes(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(fmt.Sprintf("%d", status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
			_, err := client.Detail(context.Background(), "1")
			assert.True(t, errors.Is(err, ErrTransient), "status %d should be transient", status)
		})
	}
}

func TestGet_HTTPNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.Detail(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_ConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client, err := New(Config{APIBase: server.URL})
	require.NoError(t, err)

	_, err = client.Detail(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrTransient))
}
