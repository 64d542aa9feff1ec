// Package publish uploads an assembled final video to YouTube.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shorts-engine/config"
	"shorts-engine/types"
)

// Uploader publishes finals via the YouTube Data API v3.
type Uploader struct {
	cfg *config.Config
}

func NewUploader(cfg *config.Config) *Uploader {
	return &Uploader{cfg: cfg}
}

// Upload pushes the assembled video with the blueprint's title and
// description. Returns the YouTube video ID and watch URL.
func (u *Uploader) Upload(ctx context.Context, videoFile string, bp *types.Blueprint) (string, string, error) {
	client, err := oauthClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("youtube auth: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", "", fmt.Errorf("youtube service: %w", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                bp.Title,
			Description:          bp.Description,
			CategoryId:           u.cfg.Publish.CategoryID,
			DefaultLanguage:      u.cfg.Publish.DefaultLanguage,
			DefaultAudioLanguage: u.cfg.Publish.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: u.cfg.Publish.Visibility,
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	log.Info().Str("project", bp.Project).Str("version", bp.Version).
		Str("title", bp.Title).Msg("uploading final video")

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Do()
	if err != nil {
		return "", "", fmt.Errorf("youtube upload: %w", err)
	}

	url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	log.Info().Str("video_id", uploaded.Id).Str("url", url).Msg("upload complete")
	return uploaded.Id, url, nil
}

// oauthClient builds an OAuth2 HTTP client from env credentials; a stored
// refresh token keeps the flow non-interactive.
func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return &http.Client{Transport: &oauth2.Transport{Source: conf.TokenSource(ctx, token)}}, nil
}
