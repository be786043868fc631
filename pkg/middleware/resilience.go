package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/contextkeys"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// MaxReplayBody caps the request body kept in memory for replaying attempts
const MaxReplayBody = 10 << 20

// bufferedResponse captures one attempt so failed attempts can be discarded
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// rendered reports whether the handler produced its own JSON body
func (b *bufferedResponse) rendered() bool {
	if b.body.Len() == 0 {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(b.header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}

// resilient runs the handler under the retry executor. Each attempt writes to
// its own buffer and only the final one reaches the client.
func (p *Pipeline) resilient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		class := contextkeys.GetEndpointClass(ctx)

		body, err := readReplayBody(r)
		if err != nil {
			p.cfg.Classifier.Respond(w, r, err, 0)
			return
		}

		var last *bufferedResponse
		res, err := p.executor.Do(ctx, class, func(attemptCtx context.Context) (int, error) {
			buf := newBufferedResponse()
			req := r.WithContext(attemptCtx)
			if body != nil {
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
			next.ServeHTTP(buf, req)
			last = buf

			if attemptErr := attemptCtx.Err(); attemptErr != nil && (buf.status == 0 || buf.status >= http.StatusInternalServerError) {
				return 0, attemptErr
			}
			if buf.status == 0 {
				buf.status = http.StatusOK
			}
			return buf.status, nil
		})

		if res.Attempts > 0 {
			w.Header().Set("X-Retry-Attempt", strconv.Itoa(res.Attempts))
		}
		switch {
		case ctx.Err() != nil:
			// The client is gone, nothing to deliver
			observability.FromContext(ctx).WithField("attempts", res.Attempts).Info("Client disconnected during request")
		case err == nil && last != nil:
			last.flush(w)
		case isStatusError(err) && last != nil && last.rendered():
			last.flush(w)
		default:
			p.cfg.Classifier.Respond(w, r, err, res.Status)
		}

		p.recordUsage(r, res)
	})
}

func readReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxReplayBody+1))
	if err != nil {
		return nil, apierrors.Validation("request body could not be read")
	}
	if len(body) > MaxReplayBody {
		return nil, &apierrors.Error{
			Kind:   apierrors.KindValidation,
			Status: http.StatusRequestEntityTooLarge,
			Detail: fmt.Sprintf("request body exceeds %d bytes", MaxReplayBody),
		}
	}
	return body, nil
}

func isStatusError(err error) bool {
	var statusErr *apierrors.StatusError
	return errors.As(err, &statusErr)
}
