// Package feed parses a cache-channel feed document: an Atom 1.0 feed
// carrying cache-channel extension elements in the
// http://purl.org/syndication/cache-channel namespace.
//
// Parsing is done element-at-a-time with encoding/xml's streaming
// Decoder rather than a whole-document DOM: Parse takes the whole
// document as bytes, but no element tree is built for it — one <entry>
// is decoded, inspected, and discarded before the next is read.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	atomNS = "http://www.w3.org/2005/Atom"
	ccNS   = "http://purl.org/syndication/cache-channel"
)

// ErrUnsupportedFeedFormat is returned when the document root is not an
// atom:feed element.
var ErrUnsupportedFeedFormat = errors.New("feed: unsupported format (root is not atom:feed)")

// Event is one stale-event entry: the URI it invalidates, and the time it
// was asserted as of, if that time parsed cleanly.
type Event struct {
	URI     string
	Updated *time.Time
}

// Doc is the parsed result of a single feed fetch.
type Doc struct {
	// HeadLinks maps link rel (default "alternate" when absent) to its
	// absolute URI, resolved against the feed's base URI.
	HeadLinks map[string]string
	// Precision, Lifetime, ArchiveNum are nil when the feed head omitted
	// the corresponding cache-channel element.
	Precision  *int
	Lifetime   *int
	ArchiveNum *int
	Events     []Event
}

type atomLinkXML struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type entryXML struct {
	Links   []atomLinkXML `xml:"http://www.w3.org/2005/Atom link"`
	Updated string        `xml:"http://www.w3.org/2005/Atom updated"`
	Stale   *struct{}     `xml:"http://purl.org/syndication/cache-channel stale"`
}

type textElemXML struct {
	Value string `xml:",chardata"`
}

// Parse parses a feed document fetched from baseURI. Relative URIs in
// link hrefs are resolved against it.
func Parse(baseURI string, data []byte) (Doc, error) {
	base, err := url.Parse(baseURI)
	if err != nil {
		base = &url.URL{}
	}

	doc := Doc{HeadLinks: map[string]string{}}
	dec := xml.NewDecoder(bytes.NewReader(data))
	sawRoot := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Doc{}, fmt.Errorf("feed: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !sawRoot {
			if se.Name.Space != atomNS || se.Name.Local != "feed" {
				return Doc{}, ErrUnsupportedFeedFormat
			}
			sawRoot = true
			continue
		}

		switch {
		case se.Name.Space == atomNS && se.Name.Local == "link":
			var link atomLinkXML
			if err := dec.DecodeElement(&link, &se); err != nil {
				continue
			}
			rel := link.Rel
			if rel == "" {
				rel = "alternate"
			}
			doc.HeadLinks[rel] = resolve(base, link.Href)

		case se.Name.Space == ccNS && se.Name.Local == "precision":
			if n, ok := decodeInt(dec, se); ok {
				doc.Precision = &n
			}

		case se.Name.Space == ccNS && se.Name.Local == "lifetime":
			if n, ok := decodeInt(dec, se); ok {
				doc.Lifetime = &n
			}

		case se.Name.Space == ccNS && se.Name.Local == "archive_num":
			if n, ok := decodeInt(dec, se); ok {
				doc.ArchiveNum = &n
			}

		case se.Name.Space == atomNS && se.Name.Local == "entry":
			var entry entryXML
			if err := dec.DecodeElement(&entry, &se); err != nil {
				continue
			}
			if entry.Stale == nil {
				continue // only cc:stale entries carry an invalidation event
			}
			eventURI := ""
			for _, l := range entry.Links {
				rel := l.Rel
				if rel == "" {
					rel = "alternate"
				}
				if rel == "alternate" {
					eventURI = resolve(base, l.Href)
					break
				}
			}
			if eventURI == "" {
				continue
			}
			doc.Events = append(doc.Events, Event{
				URI:     eventURI,
				Updated: parseUpdated(entry.Updated),
			})

		default:
			if err := dec.Skip(); err != nil {
				return Doc{}, fmt.Errorf("feed: %w", err)
			}
		}
	}

	if !sawRoot {
		return Doc{}, ErrUnsupportedFeedFormat
	}
	return doc, nil
}

func decodeInt(dec *xml.Decoder, se xml.StartElement) (int, bool) {
	var t textElemXML
	if err := dec.DecodeElement(&t, &se); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(t.Value))
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

var updatedLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

func parseUpdated(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range updatedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
