package apiserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"driftsync/pkg/logging"
)

// gitHubPushEvent carries the fields of a GitHub push webhook we act on.
type gitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// handleGitHubWebhook validates the HMAC signature and fast-forwards source
// polling for every Application tracking the pushed repository. The poll
// loop stays the source of truth; the webhook only beats its interval.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if len(s.webhookSecret) == 0 {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read body")
		return
	}
	defer r.Body.Close()

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		logging.Warn("APIServer", "Rejecting webhook with invalid signature")
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "push" {
		logging.Debug("APIServer", "Ignoring webhook event type %q", eventType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var event gitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	refreshed := 0
	for _, url := range candidateURLs(event) {
		refreshed += s.manager.RefreshRepo(url)
	}

	logging.Info("APIServer", "Webhook push for %s (%s): refreshed %d applications",
		event.Repository.FullName, event.Ref, refreshed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "accepted",
		"refreshed": refreshed,
	})
}

// candidateURLs lists the URL spellings an Application may use for the
// pushed repository.
func candidateURLs(event gitHubPushEvent) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		urls = append(urls, url)
	}

	add(event.Repository.CloneURL)
	add(strings.TrimSuffix(event.Repository.CloneURL, ".git"))
	add(event.Repository.SSHURL)
	add(event.Repository.HTMLURL)
	if event.Repository.HTMLURL != "" {
		add(event.Repository.HTMLURL + ".git")
	}

	return urls
}

// verifySignature checks the GitHub sha256 HMAC header in constant time.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
