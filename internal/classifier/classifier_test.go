package classifier

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/models"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() Request {
	return Request{
		Title:       "Huge pothole",
		Description: "Cars swerving around it",
		Category:    "Road",
		Image:       []byte("not really an image"),
		Filename:    "photo.jpg",
	}
}

func TestClient_Classify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Analysis
		wantRej *RejectedError
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{"status":"success","analysis":{"priority":"critical","is_critical":false,
				"suggested_category":"Water","scores":{"sentiment":-0.4},
				"keywords_detected":{"water":["leak","pipe"],"road":["pothole"],"garbage":[]}}}`,
			want: Analysis{
				Priority:          models.PriorityCritical,
				IsCritical:        true,
				SuggestedCategory: "Water",
				Sentiment:         -0.4,
				KeywordsByCategory: []KeywordGroup{
					{Category: "water", Keywords: []string{"leak", "pipe"}},
					{Category: "road", Keywords: []string{"pothole"}},
				},
			},
		},
		{
			name:   "unknown priority becomes LOW",
			status: http.StatusOK,
			body:   `{"status":"success","analysis":{"priority":"URGENT","urgency":0.7}}`,
			want: Analysis{
				Priority:           models.PriorityLow,
				SuggestedCategory:  "Road",
				Sentiment:          0.7,
				KeywordsByCategory: []KeywordGroup{},
			},
		},
		{
			name:    "rejected 422",
			status:  http.StatusUnprocessableEntity,
			body:    `{"status":"rejected","message":"Image does not show a civic issue","is_fake":true}`,
			wantRej: &RejectedError{Message: "Image does not show a civic issue"},
		},
		{
			name:    "rejected 400 with reason",
			status:  http.StatusBadRequest,
			body:    `{"reason":"mismatch","message":""}`,
			wantRej: &RejectedError{Reason: "mismatch", Message: defaultRejectMessage},
		},
		{
			name:   "server error falls back",
			status: http.StatusInternalServerError,
			body:   `{"status":"error","message":"boom"}`,
			want:   Default("Road"),
		},
		{
			name:   "garbage body falls back",
			status: http.StatusOK,
			body:   `<html>`,
			want:   Default("Road"),
		},
		{
			name:   "non-success status falls back",
			status: http.StatusOK,
			body:   `{"status":"error"}`,
			want:   Default("Road"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.status, tt.body)
			c := New(srv.URL, time.Second, zap.NewNop().Sugar())

			got, err := c.Classify(context.Background(), testRequest())
			if tt.wantRej != nil {
				require.Error(t, err)
				assert.True(t, IsRejected(err))
				var rej *RejectedError
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tt.wantRej, rej)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_TimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 50*time.Millisecond, zap.NewNop().Sugar())
	got, err := c.Classify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, Default("Road"), got)
}

func TestClient_Disabled(t *testing.T) {
	c := New("", 0, zap.NewNop().Sugar())
	assert.False(t, c.Enabled())

	got, err := c.Classify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, Default("Road"), got)
}

func TestClient_SendsMultipart(t *testing.T) {
	var gotText string
	var gotImage []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotText = r.FormValue("text")
		f, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		gotImage, _ = io.ReadAll(f)
		_, _ = io.WriteString(w, `{"status":"success","analysis":{"priority":"LOW"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zap.NewNop().Sugar())
	_, err := c.Classify(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Huge pothole\nCars swerving around it", gotText)
	assert.Equal(t, []byte("not really an image"), gotImage)
}

func TestPrepareImage_Downscales(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2048, 1024))
	for x := 0; x < 2048; x += 64 {
		img.Set(x, 0, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, name := prepareImage(buf.Bytes(), "big.png")
	assert.Equal(t, "big.jpg", name)

	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, decoded.Bounds().Dx())
	assert.Equal(t, 512, decoded.Bounds().Dy())
}

func TestPrepareImage_SmallUnchanged(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, name := prepareImage(buf.Bytes(), "small.png")
	assert.Equal(t, buf.Bytes(), out)
	assert.Equal(t, "small.png", name)
}

func TestFlattenKeywords(t *testing.T) {
	groups, err := flattenKeywords([]byte(`{"z":["a"],"a":["b","c"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, Analysis{KeywordsByCategory: groups}.Keywords())

	groups, err = flattenKeywords(nil)
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = flattenKeywords([]byte(`["a"]`))
	assert.Error(t, err)
}
