package auth

import (
	"net/http"
	"strings"

	"notebroker/internal/config"
)

// CallbackParams is the provider-independent shape every callback route
// produces before validation.
type CallbackParams struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Extractor pulls CallbackParams out of a provider's redirect request.
type Extractor func(r *http.Request) (CallbackParams, error)

// CallbackRoute binds a provider to its callback path and extractor.
type CallbackRoute struct {
	Provider string
	Path     string
	Extract  Extractor
}

// QueryExtractor reads the standard query-string callback.
func QueryExtractor(r *http.Request) (CallbackParams, error) {
	q := r.URL.Query()
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, nil
}

// FormPostExtractor reads a response_mode=form_post callback. Query values are
// accepted as a fallback so a provider that ignores the response mode still
// works.
func FormPostExtractor(r *http.Request) (CallbackParams, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return CallbackParams{}, err
		}
		return CallbackParams{
			Code:             r.PostForm.Get("code"),
			State:            r.PostForm.Get("state"),
			Error:            r.PostForm.Get("error"),
			ErrorDescription: r.PostForm.Get("error_description"),
		}, nil
	}
	return QueryExtractor(r)
}

func extractorFor(mode config.ResponseMode) Extractor {
	if mode == config.ResponseModeFormPost {
		return FormPostExtractor
	}
	return QueryExtractor
}

// BuildRoutes derives the route table. The default callback path is always
// routed (provider ""), so a single-provider setup can use it directly.
// Duplicate paths keep the first entry.
func BuildRoutes(defaultPath string, providers []config.ProviderConfig) []CallbackRoute {
	routes := []CallbackRoute{{Path: defaultPath, Extract: QueryExtractor}}
	seen := map[string]bool{defaultPath: true}

	for _, p := range providers {
		path := p.CallbackPath
		if path == "" {
			path = strings.TrimRight(defaultPath, "/") + "/" + p.Name
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		routes = append(routes, CallbackRoute{
			Provider: p.Name,
			Path:     path,
			Extract:  extractorFor(p.ResponseMode),
		})
	}
	return routes
}

func routeFor(routes []CallbackRoute, provider string) CallbackRoute {
	for _, r := range routes {
		if r.Provider == provider {
			return r
		}
	}
	return routes[0]
}
