package memeapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, 5*time.Second, nil), srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestChartPointMarshalsAsPair(t *testing.T) {
	data, err := json.Marshal([]ChartPoint{{Label: "15:00", Count: 3}, {Label: "16:00", Count: 0}})
	if err != nil {
		t.Fatal(err)
	}
	want := `[["15:00",3],["16:00",0]]`
	if string(data) != want {
		t.Fatalf("marshal = %s, want %s", data, want)
	}
}

func TestGenerateMemeSubmitThenFetch(t *testing.T) {
	var gotBody GeneratePayload
	mux := http.NewServeMux()
	mux.HandleFunc("/memes/petpet", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"image_id": "img-1"})
	})
	mux.HandleFunc("/image/img-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	c, srv := newTestClient(mux)
	defer srv.Close()

	out, err := c.GenerateMeme(context.Background(), "petpet", GeneratePayload{Texts: []string{"你好"}})
	if err != nil {
		t.Fatalf("GenerateMeme: %v", err)
	}
	if string(out) != "png-bytes" {
		t.Fatalf("bytes = %q", out)
	}
	if len(gotBody.Texts) != 1 || gotBody.Texts[0] != "你好" {
		t.Fatalf("texts = %v", gotBody.Texts)
	}
	// nil slices must serialize as empty, not null
	if gotBody.Images == nil || gotBody.Options == nil {
		t.Fatal("images and options should default to empty")
	}
}

func TestGenerateMemeHTTPErrorWrapped(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such meme", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := c.GenerateMeme(context.Background(), "nope", GeneratePayload{})
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiError.Op != "generate" || !strings.Contains(apiError.Error(), "404") {
		t.Fatalf("apiError = %v", apiError)
	}
}

func TestUploadImagesPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	n := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/image/upload", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(body.Data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		n++
		mu.Unlock()
		// derive the id from the payload so order is verifiable
		writeJSON(w, map[string]string{"image_id": "id-" + string(raw)})
	})
	c, srv := newTestClient(mux)
	defer srv.Close()

	ids, err := c.UploadImages(context.Background(), [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != nil {
		t.Fatalf("UploadImages: %v", err)
	}
	want := []string{"id-a", "id-b", "id-c"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if n != 3 {
		t.Fatalf("uploads = %d, want 3", n)
	}
}

func TestUploadImagesFirstErrorAborts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/image/upload", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	})
	c, srv := newTestClient(mux)
	defer srv.Close()

	if _, err := c.UploadImages(context.Background(), [][]byte{[]byte("a"), []byte("b")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchMemesQueryParams(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meme/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("query") != "猫" || r.URL.Query().Get("include_tags") != "true" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		writeJSON(w, []string{"cat_pat", "cat_hug"})
	}))
	defer srv.Close()

	keys, err := c.SearchMemes(context.Background(), "猫", true)
	if err != nil {
		t.Fatalf("SearchMemes: %v", err)
	}
	if len(keys) != 2 || keys[0] != "cat_pat" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestListMemeInfos(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meme/infos" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"key":"petpet","params":{"min_images":1,"max_images":1,"min_texts":0,"max_texts":0},"keywords":["摸","摸摸头"]}]`))
	}))
	defer srv.Close()

	infos, err := c.ListMemeInfos(context.Background())
	if err != nil {
		t.Fatalf("ListMemeInfos: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "petpet" || infos[0].Params.MinImages != 1 {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].DisplayName() != "摸" {
		t.Fatalf("DisplayName = %q", infos[0].DisplayName())
	}
}
