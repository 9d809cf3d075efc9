package controllers

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/html"
)

// LinkPreview describes the OpenGraph metadata of an external page.
type LinkPreview struct {
	Image       *string `json:"image"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

var previewClient = &http.Client{Timeout: 10 * time.Second}

// LinkPreview fetches an external URL and extracts its OpenGraph tags. Any
// fetch or parse failure is reported as not found; previews never touch
// chain state.
func (c *Controller) LinkPreview(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		writeError(w, http.StatusNotFound, "Link preview could not be fetched.")
		return
	}
	preview, err := fetchLinkPreview(r, link)
	if err != nil {
		writeError(w, http.StatusNotFound, "Link preview could not be fetched.")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func fetchLinkPreview(r *http.Request, link string) (*LinkPreview, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := previewClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}
	return parseOpenGraph(resp)
}

// parseOpenGraph walks the document tokens collecting og:title,
// og:description and og:image meta tags.
func parseOpenGraph(resp *http.Response) (*LinkPreview, error) {
	preview := &LinkPreview{}
	tokenizer := html.NewTokenizer(resp.Body)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// Includes io.EOF, which terminates the walk.
			return preview, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "meta" {
				continue
			}
			var property, content string
			for _, attr := range token.Attr {
				switch attr.Key {
				case "property":
					property = attr.Val
				case "content":
					content = attr.Val
				}
			}
			if content == "" {
				continue
			}
			value := content
			switch property {
			case "og:title":
				preview.Title = &value
			case "og:description":
				preview.Description = &value
			case "og:image":
				preview.Image = &value
			}
		}
	}
}
