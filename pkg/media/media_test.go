package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botserver/pkg/config"
)

func TestDecodeQRPostsBytesAndKeepsRawResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "png-bytes", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"https://example.com/ticket/42","format":"qr"}`)
	}))
	defer server.Close()

	client := New(config.ServicesConfig{QRDecodeURL: server.URL}, server.Client())

	result, err := client.DecodeQR(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/ticket/42", result.Text)
	require.Equal(t, "qr", result.Raw["format"])
}

func TestDecodeQRWithoutTextIsNoResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":""}`)
	}))
	defer server.Close()

	client := New(config.ServicesConfig{QRDecodeURL: server.URL}, server.Client())

	_, err := client.DecodeQR(context.Background(), []byte("x"), "image/png")
	require.ErrorIs(t, err, ErrNoResult)
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":"hello there","language":"en","confidence":0.93}`)
	}))
	defer server.Close()

	client := New(config.ServicesConfig{TranscribeURL: server.URL}, server.Client())

	transcript, err := client.Transcribe(context.Background(), []byte("ogg"), "audio/ogg")
	require.NoError(t, err)
	require.Equal(t, Transcript{Text: "hello there", Language: "en", Confidence: 0.93}, transcript)
}

func TestDescribeVideoServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(config.ServicesConfig{VideoDescribeURL: server.URL}, server.Client())

	_, err := client.DescribeVideo(context.Background(), []byte("mp4"), "video/mp4")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

func TestUnconfiguredService(t *testing.T) {
	client := New(config.ServicesConfig{}, nil)

	_, err := client.Transcribe(context.Background(), []byte("x"), "audio/ogg")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Transcribe error = %v, want ErrNotConfigured", err)
	}
}

func TestRequestsHonorTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(config.ServicesConfig{VideoDescribeURL: server.URL}, server.Client())
	client.requestTimeout = 50 * time.Millisecond

	startedAt := time.Now()
	_, err := client.DescribeVideo(context.Background(), []byte("mp4"), "video/mp4")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "error = %v", err)
	require.Less(t, time.Since(startedAt), 5*time.Second)
}

func TestFetchRejectsOversizedAttachment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	client := New(config.ServicesConfig{MaxMediaBytes: 4, AllowPrivateFetch: true}, server.Client())

	_, err := client.Fetch(context.Background(), server.URL)
	require.Error(t, err)

	client = New(config.ServicesConfig{MaxMediaBytes: 64, AllowPrivateFetch: true}, server.Client())
	data, err := client.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))
}

func TestFetchRefusesInternalAddresses(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "secret")
	}))
	defer server.Close()

	client := New(config.ServicesConfig{}, server.Client())

	for _, rawURL := range []string{
		server.URL,
		"http://127.0.0.1/latest/meta-data",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]:8080/admin",
		"http://10.0.0.7/",
		"http://localhost:6379/",
		"file:///etc/passwd",
		"gopher://example.com/",
	} {
		_, err := client.Fetch(context.Background(), rawURL)
		require.ErrorIs(t, err, ErrFetchRefused, rawURL)
	}
	require.Zero(t, hits.Load())
}

func TestFetchPolicyAllowList(t *testing.T) {
	policy := newFetchPolicy([]string{" API.Telegram.org ", ""}, false)

	_, err := policy.check("https://api.telegram.org/file/bot123/photo.jpg")
	require.NoError(t, err)
	_, err = policy.check("https://cdn.api.telegram.org/x.png")
	require.NoError(t, err)
	_, err = policy.check("https://evil-api.telegram.org.attacker.net/x.png")
	require.ErrorIs(t, err, ErrFetchRefused)
	_, err = policy.check("https://example.com/x.png")
	require.ErrorIs(t, err, ErrFetchRefused)
}

func TestRefuseInternalAtDialTime(t *testing.T) {
	for _, address := range []string{"127.0.0.1:80", "[::ffff:10.1.2.3]:443", "100.64.0.1:80", "0.0.0.0:80", "[fe80::1]:80"} {
		require.ErrorIs(t, refuseInternal("tcp", address, nil), ErrFetchRefused, address)
	}
	require.NoError(t, refuseInternal("tcp", "93.184.216.34:443", nil))
	require.False(t, internalAddr(netip.MustParseAddr("2606:4700::1111")))
}

func TestFetchRedirectsFollowPolicy(t *testing.T) {
	client := newFetchClient(newFetchPolicy(nil, false), nil)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1/internal", nil)
	require.NoError(t, err)
	require.ErrorIs(t, client.CheckRedirect(req, nil), ErrFetchRefused)

	req, err = http.NewRequest(http.MethodGet, "https://example.com/next", nil)
	require.NoError(t, err)
	require.NoError(t, client.CheckRedirect(req, nil))
	require.ErrorIs(t, client.CheckRedirect(req, make([]*http.Request, maxFetchRedirects)), ErrFetchRefused)
}
