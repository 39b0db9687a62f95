package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mosajjal/authhec/pkg/config"
)

// ClientCredentials returns a caching token source for cfg's client credentials grant, or
// nil when cfg authenticates with a static token. Tokens are requested through client when
// it is non-nil.
func ClientCredentials(ctx context.Context, cfg config.IntegrationConfig, client *http.Client) oauth2.TokenSource {
	if cfg.AuthScheme != config.SchemeOAuth || cfg.OAuth == nil {
		return nil
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.Credential,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	}
	return cc.TokenSource(ctx)
}
