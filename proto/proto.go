// Package proto implements the line-delimited stdio protocol the caching
// proxy speaks to the coordinator (spec.md §6). One goroutine reads
// request lines, decodes them into decision.Query values, and writes
// back FRESH/STALE response lines; on stdin EOF it returns, and the
// caller shuts the manager down.
package proto

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mchtech/cachechannel/channel"
	"github.com/mchtech/cachechannel/decision"
	"github.com/mchtech/cachechannel/headercodec"
	"github.com/rs/zerolog"
)

// dateLayout matches spec.md §6's "%a, %d %b %Y %H:%M:%S GMT".
const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Decider is the subset of *channel.Manager the protocol loop needs.
type Decider interface {
	Decide(q decision.Query, now time.Time) decision.Result
}

var _ Decider = (*channel.Manager)(nil)

// Server drives the request/response loop over r/w.
type Server struct {
	r         *bufio.Reader
	w         *bufio.Writer
	decider   Decider
	logger    zerolog.Logger
	extendPct int
	now       func() time.Time
}

// New builds a Server. now defaults to time.Now when nil; tests pass a
// fixed clock.
func New(r io.Reader, w io.Writer, decider Decider, logger zerolog.Logger, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{
		r:       bufio.NewReader(r),
		w:       bufio.NewWriter(w),
		decider: decider,
		logger:  logger,
		now:     now,
	}
}

// Run reads request lines until EOF, answering each one in turn. It
// returns nil on clean EOF, or the first I/O error encountered.
func (s *Server) Run() error {
	for {
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			s.handleLine(strings.TrimRight(line, "\r\n"))
			if ferr := s.w.Flush(); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) handleLine(line string) {
	reqID, query, ok := parseRequest(line)
	if !ok {
		s.logger.Debug().Str("line", line).Msg("malformed_line_error")
		fmt.Fprintf(s.w, "%s STALE log=malformed_line_error\n", reqID)
		return
	}

	res := s.decider.Decide(query, s.now())
	switch res.Verdict {
	case decision.Fresh:
		seconds := res.Freshness.Seconds()
		date := s.now().UTC().Format(dateLayout)
		fmt.Fprintf(s.w, "%s FRESH freshness=%.2f res{Date}=\"%s\" log=extended_%.2f\n",
			reqID, seconds, date, seconds)
	default:
		fmt.Fprintf(s.w, "%s STALE log=%s\n", reqID, res.Reason)
	}
}

// parseRequest decodes one request line per spec.md §6: five
// whitespace-delimited fields, the last two percent-encoded.
func parseRequest(line string) (reqID string, q decision.Query, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		if len(fields) > 0 {
			reqID = fields[0]
		}
		return reqID, decision.Query{}, false
	}

	reqID = fields[0]
	requestURI := fields[1]
	age, err := strconv.Atoi(fields[2])
	if err != nil {
		return reqID, decision.Query{}, false
	}

	ccRaw, err := url.QueryUnescape(fields[3])
	if err != nil {
		return reqID, decision.Query{}, false
	}
	linkRaw, err := url.QueryUnescape(fields[4])
	if err != nil {
		return reqID, decision.Query{}, false
	}

	q = decision.Query{
		ReqID:        reqID,
		RequestURI:   requestURI,
		Age:          age,
		CacheControl: headercodec.ParseCacheControl(ccRaw),
		Links:        headercodec.ParseLink(linkRaw),
	}
	return reqID, q, true
}
