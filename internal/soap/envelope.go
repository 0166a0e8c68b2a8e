package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bolasblack/tfvc/internal/tfserr"
)

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	xsiNS      = "http://www.w3.org/2001/XMLSchema-instance"
)

type requestEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Xsi     string   `xml:"xmlns:xsi,attr"`
	Body    struct {
		Content any
	} `xml:"soap:Body"`
}

type responseEnvelope struct {
	Body struct {
		Fault   *fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

// FaultError is a SOAP fault returned by the server.
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	return e.Message
}

// call posts one SOAP request and decodes the body into out.
func (c *Client) call(ctx context.Context, endpoint, namespace, action string, in, out any) error {
	env := requestEnvelope{Soap: envelopeNS, Xsi: xsiNS}
	env.Body.Content = in
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+endpoint, &buf)
	if err != nil {
		return tfserr.ConnectionFailed(0, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+namespace+"/"+action+`"`)
	c.authorize(req)

	log := c.log.With(zap.String("action", action))
	log.Debug("soap call")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &tfserr.UserCancelledError{}
		}
		return tfserr.ConnectionFailed(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tfserr.ConnectionFailed(resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &tfserr.UnauthorizedError{Message: fmt.Sprintf("TF30063: You are not authorized to access %s", c.baseURI)}
	case resp.StatusCode == http.StatusInternalServerError && isXML(resp):
		// Faults travel with a 500 status.
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return tfserr.ConnectionFailed(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	var renv responseEnvelope
	if err := xml.Unmarshal(data, &renv); err != nil {
		return &tfserr.Error{Message: "malformed response to " + action, Err: err}
	}
	if f := renv.Body.Fault; f != nil {
		log.Debug("soap fault", zap.String("code", f.Code), zap.String("message", f.String))
		return &tfserr.Error{Err: &FaultError{Code: f.Code, Message: f.String}}
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(renv.Body.Content, out); err != nil {
		return &tfserr.Error{Message: "malformed response to " + action, Err: err}
	}
	return nil
}

func isXML(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "xml")
}
