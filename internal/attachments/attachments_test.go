package attachments

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFromBytes_DecodesPNG(t *testing.T) {
	att, err := FromBytes(testPNGBytes(t), "pic.png")
	require.NoError(t, err)
	require.NotNil(t, att)
	require.Equal(t, "image", att.Type)
	require.Equal(t, "pic.png", att.FileName)
	require.NotEmpty(t, att.Content)
}

func TestFromBytes_NonImageReturnsNilWithoutError(t *testing.T) {
	att, err := FromBytes([]byte("just some plain text, not an image"), "file.txt")
	require.NoError(t, err)
	require.Nil(t, att)
}

func TestFetch_DownloadsAndDecodesWithinCap(t *testing.T) {
	data := testPNGBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	att, err := Fetch(http.DefaultClient, srv.URL, "pic.png", int64(len(data)+10))
	require.NoError(t, err)
	require.NotNil(t, att)
	require.Equal(t, "pic.png", att.FileName)
}

func TestFetch_ExceedsCapErrors(t *testing.T) {
	data := testPNGBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	_, err := Fetch(http.DefaultClient, srv.URL, "pic.png", 2)
	require.Error(t, err)
}

func TestFetch_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(http.DefaultClient, srv.URL, "pic.png", 1024)
	require.Error(t, err)
}
