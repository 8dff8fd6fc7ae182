package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/bom"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/report"
)

const (
	uploadPath  = "api/v1/bom"
	contentType = "application/vnd.cyclonedx+json; version = 1.6"
)

// BOMRepoUploader converts the JSON report to CycloneDX and publishes it
// to a BOM repository
type BOMRepoUploader struct {
	requestURL *url.URL
	token      string
	client     *http.Client
}

func NewBOMRepoUploader(repo model.Repository) (*BOMRepoUploader, error) {
	u := repo.URL.AsURL()
	if u == nil {
		return nil, errors.New("server url is not set")
	}
	parsedURL := *u
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}
	parsedURL.Path = uploadPath

	c := &BOMRepoUploader{
		requestURL: &parsedURL,
		client:     &http.Client{},
	}
	switch repo.Auth.Type {
	case model.AuthTypeNone, "":
	case model.AuthTypeStaticToken:
		if repo.Auth.Token == "" {
			return nil, errors.New("auth token is empty")
		}
		c.token = repo.Auth.Token
	default:
		return nil, fmt.Errorf("unsupported auth type %q", repo.Auth.Type)
	}
	return c, nil
}

func (c *BOMRepoUploader) Upload(ctx context.Context, raw []byte) error {
	r, err := report.ReadReport(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	var body bytes.Buffer
	if err := bom.FromReport(r).AsJSON(&body); err != nil {
		return fmt.Errorf("formatting report as CycloneDX: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	createResp, err := c.decodeUploadResponse(resp)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "BOM uploaded successfully.",
		slog.String("urn", createResp.SerialNumber),
		slog.Int("version", createResp.Version))

	return nil
}

type BOMCreateResponse struct {
	SerialNumber string `json:"serialNumber"`
	Version      int    `json:"version"`
}

func (c *BOMRepoUploader) decodeUploadResponse(resp *http.Response) (BOMCreateResponse, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return BOMCreateResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if contentType != "application/json" {
			return BOMCreateResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var bc BOMCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&bc); err != nil {
			return BOMCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if bc.SerialNumber == "" || bc.Version == 0 {
			return BOMCreateResponse{}, errors.New("received unexpected body")
		}
		return bc, nil

	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType != "application/problem+json" {
			return BOMCreateResponse{}, fmt.Errorf("status code: %d, unexpected content type: %s", resp.StatusCode, contentType)
		}
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return BOMCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return BOMCreateResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return BOMCreateResponse{}, err
	}
	return BOMCreateResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
