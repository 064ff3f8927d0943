// Package netease provides a client for a NetEase Cloud Music API gateway.
package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yonagi/tsbox/internal/domain/track"
)

// Typed conditions surfaced to callers. These are user-facing categories,
// not transport errors.
var (
	ErrNotFound         = errors.New("track not found")
	ErrPaidContent      = errors.New("track requires a paid account")
	ErrRegionRestricted = errors.New("track is restricted in this region")
	ErrTransient        = errors.New("upstream is temporarily unavailable")
)

// Bitrates used when requesting a playable URL. The reduced bitrate is the
// single automatic fallback for paid-tier content.
const (
	bitrateFull    = 999000
	bitrateReduced = 128000
)

// Client is a NetEase API client.
type Client struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
}

// Config represents NetEase client configuration.
type Config struct {
	APIBase string
	Cookie  string
	Timeout time.Duration
}

// searchResponse represents the response from /search (type=1, songs).
type searchResponse struct {
	Code   int `json:"code"`
	Result struct {
		Songs []struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
			Duration int64 `json:"duration"`
		} `json:"songs"`
		SongCount int `json:"songCount"`
	} `json:"result"`
}

// detailResponse represents the response from /song/detail.
type detailResponse struct {
	Code  int `json:"code"`
	Songs []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Ar   []struct {
			Name string `json:"name"`
		} `json:"ar"`
		Al struct {
			Name   string `json:"name"`
			PicURL string `json:"picUrl"`
		} `json:"al"`
		Dt  int64 `json:"dt"`
		Fee int   `json:"fee"`
	} `json:"songs"`
}

// urlResponse represents the response from /song/url.
type urlResponse struct {
	Code int `json:"code"`
	Data []struct {
		ID            int64           `json:"id"`
		URL           string          `json:"url"`
		Code          int             `json:"code"`
		Fee           int             `json:"fee"`
		FreeTrialInfo json.RawMessage `json:"freeTrialInfo"`
	} `json:"data"`
}

// New creates a new NetEase client.
func New(cfg Config) (*Client, error) {
	if cfg.APIBase == "" {
		return nil, errors.New("netease api base is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBase, "/"),
		cookie:     cfg.Cookie,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Search searches for songs and returns them as resolvable tracks.
// SourceURL is left empty; it is resolved just before playback.
func (c *Client) Search(ctx context.Context, keywords string, limit int) ([]track.Track, error) {
	if keywords == "" {
		return nil, errors.New("search keywords are required")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	params := url.Values{}
	params.Set("keywords", keywords)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("type", "1")

	var response searchResponse
	if err := c.get(ctx, "/search", params, &response); err != nil {
		return nil, err
	}

	tracks := make([]track.Track, 0, len(response.Result.Songs))
	for _, s := range response.Result.Songs {
		artists := make([]string, 0, len(s.Artists))
		for _, a := range s.Artists {
			artists = append(artists, a.Name)
		}
		tracks = append(tracks, track.Track{
			SourceRef: track.NeteaseRef(fmt.Sprintf("%d", s.ID)),
			Title:     s.Name,
			Artist:    strings.Join(artists, "/"),
			Album:     s.Album.Name,
			Duration:  time.Duration(s.Duration) * time.Millisecond,
		})
	}
	return tracks, nil
}

// Detail fetches full metadata for a song ID.
func (c *Client) Detail(ctx context.Context, songID string) (*track.Track, error) {
	params := url.Values{}
	params.Set("ids", songID)

	var response detailResponse
	if err := c.get(ctx, "/song/detail", params, &response); err != nil {
		return nil, err
	}
	if len(response.Songs) == 0 {
		return nil, ErrNotFound
	}

	s := response.Songs[0]
	artists := make([]string, 0, len(s.Ar))
	for _, a := range s.Ar {
		artists = append(artists, a.Name)
	}

	return &track.Track{
		SourceRef:  track.NeteaseRef(songID),
		Title:      s.Name,
		Artist:     strings.Join(artists, "/"),
		Album:      s.Al.Name,
		Duration:   time.Duration(s.Dt) * time.Millisecond,
		ArtworkURL: s.Al.PicURL,
	}, nil
}

// SongURL resolves a playable media URL for a song ID.
// Paid-tier refusals get one automatic retry at reduced bitrate.
func (c *Client) SongURL(ctx context.Context, songID string) (string, error) {
	mediaURL, err := c.songURLAt(ctx, songID, bitrateFull)
	if errors.Is(err, ErrPaidContent) {
		zlog.Debug().Msgf("netease: paid content refusal, retrying at reduced bitrate: id=%s", songID)
		return c.songURLAt(ctx, songID, bitrateReduced)
	}
	return mediaURL, err
}

// Resolve fetches metadata and a fresh playable URL for a song ID.
func (c *Client) Resolve(ctx context.Context, songID string) (*track.Track, error) {
	t, err := c.Detail(ctx, songID)
	if err != nil {
		return nil, err
	}

	mediaURL, err := c.SongURL(ctx, songID)
	if err != nil {
		return nil, err
	}
	t.SourceURL = mediaURL
	return t, nil
}

func (c *Client) songURLAt(ctx context.Context, songID string, bitrate int) (string, error) {
	params := url.Values{}
	params.Set("id", songID)
	params.Set("br", fmt.Sprintf("%d", bitrate))

	var response urlResponse
	if err := c.get(ctx, "/song/url", params, &response); err != nil {
		return "", err
	}
	if len(response.Data) == 0 {
		return "", ErrNotFound
	}

	d := response.Data[0]
	switch {
	case d.Code == 404:
		return "", ErrNotFound
	case d.Code == -110:
		return "", ErrRegionRestricted
	case d.URL == "" && (d.Fee == 1 || len(d.FreeTrialInfo) > 0):
		return "", ErrPaidContent
	case d.URL == "":
		return "", ErrNotFound
	}
	return d.URL, nil
}

// get performs a GET request against the API gateway and decodes the body.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to send request"), ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return errors.Mark(errors.Newf("upstream returned %d", resp.StatusCode), ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("upstream returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
