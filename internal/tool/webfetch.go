package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const webfetchDescription = `Fetches content from a URL and returns it in the requested format.

Usage notes:
  - The URL must be a fully-formed valid URL starting with http:// or https://
  - This tool is read-only and does not modify any files
  - Results are truncated above 5MB
  - Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	maxResponseSize = 5 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
	maxTimeout      = 120 * time.Second
)

// WebFetchTool fetches web content.
type WebFetchTool struct {
	client *http.Client
}

// WebFetchInput is the argument shape for the webfetch tool.
type WebFetchInput struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"`
}

// NewWebFetchTool creates a webfetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (t *WebFetchTool) Name() string        { return "webfetch" }
func (t *WebFetchTool) Description() string { return webfetchDescription }

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The URL to fetch content from"
			},
			"format": {
				"type": "string",
				"enum": ["text", "markdown", "html"],
				"description": "The format to return the content in (text, markdown, or html)"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in seconds (max 120)"
			}
		},
		"required": ["url", "format"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params WebFetchInput
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return nil, fmt.Errorf("URL must start with http:// or https://")
	}
	if params.Format != "text" && params.Format != "markdown" && params.Format != "html" {
		return nil, fmt.Errorf("format must be 'text', 'markdown', or 'html'")
	}

	timeout := defaultTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "kiln/1.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")

	var output string
	switch params.Format {
	case "markdown":
		if strings.Contains(contentType, "text/html") {
			output, err = convertHTMLToMarkdown(content)
			if err != nil {
				return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
			}
		} else {
			output = content
		}
	case "text":
		if strings.Contains(contentType, "text/html") {
			output, err = extractTextFromHTML(content)
			if err != nil {
				return nil, fmt.Errorf("failed to extract text from HTML: %w", err)
			}
		} else {
			output = content
		}
	default:
		output = content
	}

	return &Result{Content: output}, nil
}

// extractTextFromHTML strips scripts, styles and markup, keeping text.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	return strings.TrimSpace(doc.Text()), nil
}

// convertHTMLToMarkdown converts HTML content to Markdown.
func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}
