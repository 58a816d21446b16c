package owsproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
)

func newTestProxy(t *testing.T) (*Proxy, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func register(t *testing.T, store storage.Store, name, url string) {
	t.Helper()
	require.NoError(t, store.SaveService(types.NewService(name, url)))
}

func TestForwardRelaysRequest(t *testing.T) {
	var gotPath, gotQuery, gotToken string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("X-Access-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", upstream.URL+"/wps")

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu?service=WPS&request=GetCapabilities", nil)
	req.Header.Set("X-Access-Token", "abc")
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "/wps", gotPath)
	assert.Equal(t, "service=WPS&request=GetCapabilities", gotQuery)
	assert.Equal(t, "abc", gotToken)
}

func TestForwardAppendsExtraPath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", upstream.URL+"/wms")

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu/layers/base", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "layers/base")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/wms/layers/base", gotPath)
}

func TestForwardRewritesCapabilitiesURLs(t *testing.T) {
	var upstream *httptest.Server
	upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<Capabilities><OnlineResource xlink:href="` + upstream.URL + `/wps"/></Capabilities>`))
	}))
	defer upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", upstream.URL+"/wps")

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu?request=GetCapabilities", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `xlink:href="http://trellis.example/ows/proxy/emu"`)
	assert.NotContains(t, body, upstream.URL)
}

func TestForwardBlocksDisallowedContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("binary"))
	}))
	defer upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ExceptionReport")
	assert.Contains(t, rec.Body.String(), "content type is not allowed")
	assert.NotContains(t, rec.Body.String(), "binary")
}

func TestForwardPassesImagesUntouched(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu?request=GetMap", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestForwardUnknownProvider(t *testing.T) {
	proxy, _ := newTestProxy(t)

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/ghost", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "ghost", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not find service ghost")
	assert.Contains(t, rec.Body.String(), "ExceptionReport")
}

func TestForwardUpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	proxy, store := newTestProxy(t)
	register(t, store, "emu", url)

	req := httptest.NewRequest(http.MethodGet, "http://trellis.example/ows/proxy/emu", nil)
	rec := httptest.NewRecorder()
	proxy.Forward(rec, req, "emu", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "request failed")
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/xml", mediaType("text/xml;charset=ISO-8859-1"))
	assert.Equal(t, "image/png", mediaType("image/PNG"))
	assert.Equal(t, "application/json", mediaType(" application/json "))
}

func TestIsXML(t *testing.T) {
	assert.True(t, isXML("text/xml"))
	assert.True(t, isXML("application/xml; charset=utf-8"))
	assert.False(t, isXML("application/json"))
	assert.False(t, isXML("application/vnd.ogc.wms_xml"))
}

func TestRewriteServiceURLs(t *testing.T) {
	body := []byte(`<a href="http://up.example/wps"/><b href="http://up.example/wps?x=1"/>`)
	got := rewriteServiceURLs(body, "http://up.example/wps/", "http://proxy.example/ows/proxy/emu")
	assert.Equal(t,
		`<a href="http://proxy.example/ows/proxy/emu"/><b href="http://proxy.example/ows/proxy/emu?x=1"/>`,
		string(got))
}
