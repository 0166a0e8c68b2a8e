// Package soap is the SOAP 1.1 transport for Team Foundation version control.
//
// Local paths are converted with tfspath.Local.ToWire on the way out and
// FromWire on the way back, so vcs records always hold host paths.
package soap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/credentials"
	"github.com/bolasblack/tfvc/internal/logging"
	"github.com/bolasblack/tfvc/internal/tfserr"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/vcs"
)

const (
	repositoryEndpoint   = "VersionControl/v1.0/repository.asmx"
	statusEndpoint       = "Services/v1.0/ServerStatus.asmx"
	registrationEndpoint = "Services/v1.0/Registration.asmx"

	repositoryNS   = "http://schemas.microsoft.com/TeamFoundation/2005/06/VersionControl/ClientServices/03"
	statusNS       = "http://schemas.microsoft.com/TeamFoundation/2005/06/Services/ServerStatus/03"
	registrationNS = "http://schemas.microsoft.com/TeamFoundation/2005/06/Services/Registration/03"
)

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 2 * time.Minute

// ProxySettings is the part of the configuration store that decides
// whether downloads go through a TFS proxy.
type ProxySettings interface {
	ProxyURI(serverURI string) string
	ShouldTryProxy(serverURI string) bool
	SetProxyInaccessible(serverURI string)
}

// Options configures a Transport.
type Options struct {
	HTTPClient *http.Client
	Proxy      ProxySettings
	Log        *zap.Logger
}

// Transport opens SOAP clients. It implements vcs.Transport.
type Transport struct {
	http  *http.Client
	proxy ProxySettings
	log   *zap.Logger
}

var _ vcs.Transport = (*Transport)(nil)

// NewTransport returns a transport. Redirects are never followed so a 302
// surfaces as a connection failure.
func NewTransport(opts Options) *Transport {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	cp := *hc
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Transport{http: &cp, proxy: opts.Proxy, log: logging.OrNop(opts.Log)}
}

// Open implements vcs.Transport.
func (t *Transport) Open(serverURI string, creds *credentials.Credentials) vcs.Client {
	return t.open(serverURI, creds)
}

// OpenClient is Open with the concrete type, for Download.
func (t *Transport) OpenClient(serverURI string, creds *credentials.Credentials) *Client {
	return t.open(serverURI, creds)
}

func (t *Transport) open(serverURI string, creds *credentials.Credentials) *Client {
	uri := tfspath.CanonicalizeURI(serverURI)
	return &Client{
		http:    t.http,
		proxy:   t.proxy,
		baseURI: uri,
		creds:   creds.Clone(),
		log:     t.log.With(zap.String("server", uri)),
	}
}

// Client talks to one server with one identity.
type Client struct {
	http    *http.Client
	proxy   ProxySettings
	baseURI string
	creds   *credentials.Credentials
	log     *zap.Logger
}

var _ vcs.Client = (*Client)(nil)

func (c *Client) authorize(req *http.Request) {
	if c.creds == nil || c.creds.UserName == "" {
		return
	}
	user := c.creds.QualifiedUsername()
	if c.creds.EffectiveKind() == credentials.KindAlternate {
		user = c.creds.UserName
	}
	req.SetBasicAuth(user, c.creds.Password)
}

type checkAuthentication struct {
	XMLName xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/Services/ServerStatus/03 CheckAuthentication"`
}

type checkAuthenticationResponse struct {
	Result string `xml:"CheckAuthenticationResult"`
}

type getRegistrationEntries struct {
	XMLName xml.Name `xml:"http://schemas.microsoft.com/TeamFoundation/2005/06/Services/Registration/03 GetRegistrationEntries"`
	ToolID  string   `xml:"toolId"`
}

type getRegistrationEntriesResponse struct {
	Entries []struct {
		Type       string `xml:"Type"`
		Attributes []struct {
			Name  string `xml:"Name"`
			Value string `xml:"Value"`
		} `xml:"RegistrationExtendedAttributes>RegistrationExtendedAttribute"`
	} `xml:"GetRegistrationEntriesResult>RegistrationEntry"`
}

// Connect authenticates and reads the server instance id.
func (c *Client) Connect(ctx context.Context) (*vcs.ServerDescriptor, error) {
	var auth checkAuthenticationResponse
	if err := c.call(ctx, statusEndpoint, statusNS, "CheckAuthentication", checkAuthentication{}, &auth); err != nil {
		return nil, err
	}
	var reg getRegistrationEntriesResponse
	if err := c.call(ctx, registrationEndpoint, registrationNS, "GetRegistrationEntries", getRegistrationEntries{ToolID: "vstfs"}, &reg); err != nil {
		return nil, err
	}

	desc := &vcs.ServerDescriptor{DisplayName: auth.Result}
	for _, e := range reg.Entries {
		for _, a := range e.Attributes {
			if strings.EqualFold(a.Name, "InstanceId") {
				desc.InstanceID = a.Value
			}
		}
	}

	authorized := c.creds.Clone()
	if authorized == nil {
		authorized = &credentials.Credentials{}
	}
	if authorized.EffectiveKind() != credentials.KindAlternate {
		domain, user, ok := strings.Cut(auth.Result, `\`)
		if ok {
			authorized.Domain, authorized.UserName = domain, user
		} else if auth.Result != "" {
			authorized.UserName = auth.Result
		}
	}
	desc.AuthorizedCredentials = authorized
	return desc, nil
}

// Download fetches a file. The TFS proxy is tried first when configured;
// a proxy that cannot be dialled is marked inaccessible for the session.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if c.proxy != nil && c.proxy.ShouldTryProxy(c.baseURI) {
		data, err := c.get(ctx, tfspath.CanonicalizeURI(c.proxy.ProxyURI(c.baseURI))+"VersionControlProxy/V1.0/item.asmx?"+downloadURL)
		if err == nil {
			return data, nil
		}
		if !isDialError(err) {
			return nil, err
		}
		c.log.Info("proxy unreachable, downloading from server", zap.Error(err))
		c.proxy.SetProxyInaccessible(c.baseURI)
	}
	return c.get(ctx, c.baseURI+"VersionControl/v1.0/item.asmx?"+downloadURL)
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, tfserr.ConnectionFailed(0, err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &tfserr.UserCancelledError{}
		}
		return nil, tfserr.ConnectionFailed(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &tfserr.UnauthorizedError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, tfserr.ConnectionFailed(resp.StatusCode, fmt.Errorf("download: %s", resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tfserr.ConnectionFailed(resp.StatusCode, err)
	}
	return data, nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		return errors.As(urlErr.Err, &dnsErr)
	}
	return false
}
