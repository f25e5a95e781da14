package m3u8

import (
	"regexp"
	"strconv"
	"strings"
)

// attrPattern extracts key=value pairs from an attribute-list tag
// payload, tolerating commas inside double-quoted values. Grounded on
// the sibling pack repo mogiioin-hls-m3u8's reKeyValue regex
// (m3u8/reader.go), since the teacher's own HLS parser never handles
// attribute-list tags.
var attrPattern = regexp.MustCompile(`([A-Za-z0-9_-]+)=("[^"]*"|[^",]+)`)

func parseAttributes(payload string) []Attribute {
	matches := attrPattern.FindAllStringSubmatch(payload, -1)
	attrs := make([]Attribute, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		key := strings.ToUpper(m[1])
		if seen[key] {
			continue // first-occurrence value wins on duplicate keys
		}
		seen[key] = true
		attrs = append(attrs, Attribute{
			Key:   key,
			Value: strings.Trim(m[2], `"`),
		})
	}
	return attrs
}

func attrValue(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func requireAttrs(tag string, attrs []Attribute, required ...string) error {
	for _, r := range required {
		if _, ok := attrValue(attrs, r); !ok {
			return &ParseError{
				Kind:   InvalidAttribute,
				Reason: tag + " missing required attribute " + r,
			}
		}
	}
	return nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// isComment reports whether a line is a pure comment: starts with '#'
// but is not an EXT tag.
func isComment(line string) bool {
	return strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#EXT")
}

func tagPayload(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

func tagName(line string) string {
	// "#EXT-X-KEY:METHOD=..." -> "EXT-X-KEY"; "#EXT-X-ENDLIST" -> "EXT-X-ENDLIST"
	body := strings.TrimPrefix(line, "#")
	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		return body[:idx]
	}
	return body
}

// Parse decodes playlist text into either a *MasterPlaylist or a
// *MediaPlaylist, chosen by hint. baseURL is the playlist's own
// absolute URL with its last path segment removed; it is recorded
// verbatim on the result for later segment/variant URI resolution by
// the orchestrator (the parser itself never resolves URIs, per the
// design's separation of concerns).
func Parse(text, baseURL string, hint PlaylistType) (any, error) {
	lines := splitLines(text)

	// Find and validate the first non-blank line.
	firstIdx := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		firstIdx = i
		break
	}
	if firstIdx == -1 || strings.TrimSpace(lines[firstIdx]) != "#EXTM3U" {
		return nil, &ParseError{Kind: MalformedPlaylist, Line: firstIdx + 1, Reason: "playlist must begin with #EXTM3U"}
	}

	if hint == Master {
		return parseMaster(lines, firstIdx+1, baseURL)
	}
	return parseMedia(lines, firstIdx+1, baseURL)
}

func parseMaster(lines []string, start int, baseURL string) (*MasterPlaylist, error) {
	p := &MasterPlaylist{
		BaseURL:   baseURL,
		ExtraTags: make(map[string][]string),
	}

	pendingStream := false
	var cur StreamInf

	for i := start; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		if line == "" || isComment(line) {
			continue
		}

		if pendingStream {
			if strings.HasPrefix(line, "#") {
				return nil, &ParseError{Kind: MalformedPlaylist, Line: lineNo, Reason: "expected URI after EXT-X-STREAM-INF"}
			}
			cur.URI = line
			p.Streams = append(p.Streams, cur)
			pendingStream = false
			continue
		}

		if !strings.HasPrefix(line, "#") {
			return nil, &ParseError{Kind: MalformedPlaylist, Line: lineNo, Reason: "unexpected non-tag line: " + line}
		}

		name := tagName(line)
		switch name {
		case "EXTINF":
			return nil, &ParseError{Kind: PlaylistTypeMismatch, Line: lineNo, Reason: "EXTINF found while parsing as master playlist"}
		case "EXT-X-VERSION":
			v, err := strconv.Atoi(tagPayload(line, "#EXT-X-VERSION:"))
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-VERSION: " + err.Error()}
			}
			p.Version, p.HasVersion = v, true
		case "EXT-X-STREAM-INF":
			attrs := parseAttributes(tagPayload(line, "#EXT-X-STREAM-INF:"))
			if err := requireAttrs(name, attrs, "BANDWIDTH"); err != nil {
				return nil, err
			}
			bw, _ := attrValue(attrs, "BANDWIDTH")
			bandwidth, err := strconv.Atoi(bw)
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-STREAM-INF BANDWIDTH: " + err.Error()}
			}
			res, _ := attrValue(attrs, "RESOLUTION")
			codecs, _ := attrValue(attrs, "CODECS")
			cur = StreamInf{Bandwidth: bandwidth, Resolution: res, Codecs: codecs, Raw: line}
			pendingStream = true
		case "EXT-X-MEDIA":
			attrs := parseAttributes(tagPayload(line, "#EXT-X-MEDIA:"))
			if err := requireAttrs(name, attrs, "TYPE", "GROUP-ID", "NAME"); err != nil {
				return nil, err
			}
			mtype, _ := attrValue(attrs, "TYPE")
			group, _ := attrValue(attrs, "GROUP-ID")
			mname, _ := attrValue(attrs, "NAME")
			lang, _ := attrValue(attrs, "LANGUAGE")
			uri, _ := attrValue(attrs, "URI")
			def, _ := attrValue(attrs, "DEFAULT")
			auto, _ := attrValue(attrs, "AUTOSELECT")
			p.Media = append(p.Media, Rendition{
				Type: mtype, GroupID: group, Name: mname, Language: lang, URI: uri,
				Default:    strings.EqualFold(def, "YES"),
				Autoselect: strings.EqualFold(auto, "YES"),
				Raw:        line,
			})
		default:
			p.ExtraTags[name] = append(p.ExtraTags[name], line)
			if len(p.ExtraTags[name]) == 1 {
				p.ExtraTagOrder = append(p.ExtraTagOrder, name)
			}
		}
	}

	if pendingStream {
		return nil, &ParseError{Kind: MalformedPlaylist, Reason: "EXT-X-STREAM-INF not followed by a URI"}
	}

	return p, nil
}

func parseMedia(lines []string, start int, baseURL string) (*MediaPlaylist, error) {
	p := &MediaPlaylist{
		BaseURL:   baseURL,
		ExtraTags: make(map[string][]string),
	}

	pendingSegment := false
	var curDuration float64
	var curTitle, curRaw string
	currentKeyIndex := -1
	hasTargetDuration := false

	for i := start; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		if line == "" || isComment(line) {
			continue
		}

		if pendingSegment {
			if strings.HasPrefix(line, "#") {
				return nil, &ParseError{Kind: MalformedPlaylist, Line: lineNo, Reason: "expected URI after EXTINF"}
			}
			p.Segments = append(p.Segments, Segment{Duration: curDuration, Title: curTitle, URI: line, Raw: curRaw})
			p.segmentKeyIndex = append(p.segmentKeyIndex, currentKeyIndex)
			pendingSegment = false
			continue
		}

		if !strings.HasPrefix(line, "#") {
			return nil, &ParseError{Kind: MalformedPlaylist, Line: lineNo, Reason: "unexpected non-tag line: " + line}
		}

		name := tagName(line)
		switch name {
		case "EXT-X-STREAM-INF":
			return nil, &ParseError{Kind: PlaylistTypeMismatch, Line: lineNo, Reason: "EXT-X-STREAM-INF found while parsing as media playlist"}
		case "EXT-X-VERSION":
			v, err := strconv.Atoi(tagPayload(line, "#EXT-X-VERSION:"))
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-VERSION: " + err.Error()}
			}
			p.Version, p.HasVersion = v, true
		case "EXT-X-TARGETDURATION":
			v, err := strconv.Atoi(tagPayload(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-TARGETDURATION: " + err.Error()}
			}
			p.TargetDuration = v
			hasTargetDuration = true
		case "EXT-X-MEDIA-SEQUENCE":
			v, err := strconv.Atoi(tagPayload(line, "#EXT-X-MEDIA-SEQUENCE:"))
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-MEDIA-SEQUENCE: " + err.Error()}
			}
			p.MediaSequence, p.HasMediaSeq = v, true
		case "EXT-X-PLAYLIST-TYPE":
			p.PlaylistType = tagPayload(line, "#EXT-X-PLAYLIST-TYPE:")
		case "EXT-X-ALLOW-CACHE":
			p.AllowCache = tagPayload(line, "#EXT-X-ALLOW-CACHE:")
			p.HasAllowCache = true
		case "EXT-X-ENDLIST":
			p.EndList = true
		case "EXT-X-KEY":
			attrs := parseAttributes(tagPayload(line, "#EXT-X-KEY:"))
			if err := requireAttrs(name, attrs, "METHOD"); err != nil {
				return nil, err
			}
			method, _ := attrValue(attrs, "METHOD")
			k := Key{Raw: line}
			switch strings.ToUpper(method) {
			case "NONE":
				k.Method = KeyMethodNone
			case "AES-128":
				k.Method = KeyMethodAES128
				// URI is normally required for AES-128, but a playlist
				// that omits it is only invalid when the caller supplies
				// no override key — a decision only the orchestrator can
				// make (it alone knows about overrides), so the absence
				// is tolerated here and enforced in engine.resolveSegments.
				if uri, ok := attrValue(attrs, "URI"); ok {
					k.URI = uri
				}
			default:
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXT-X-KEY unsupported METHOD " + method}
			}
			if iv, ok := attrValue(attrs, "IV"); ok {
				k.IVHex = iv
			}
			if kf, ok := attrValue(attrs, "KEYFORMAT"); ok {
				k.KeyFormat = kf
			}
			p.Keys = append(p.Keys, k)
			currentKeyIndex = len(p.Keys) - 1
		case "EXTINF":
			payload := tagPayload(line, "#EXTINF:")
			parts := strings.SplitN(payload, ",", 2)
			dur, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			if err != nil {
				return nil, &ParseError{Kind: InvalidAttribute, Line: lineNo, Reason: "EXTINF duration: " + err.Error()}
			}
			title := ""
			if len(parts) > 1 {
				title = strings.TrimSpace(parts[1])
			}
			curDuration, curTitle, curRaw = dur, title, line
			pendingSegment = true
		default:
			p.ExtraTags[name] = append(p.ExtraTags[name], line)
			if len(p.ExtraTags[name]) == 1 {
				p.ExtraTagOrder = append(p.ExtraTagOrder, name)
			}
		}
	}

	if pendingSegment {
		return nil, &ParseError{Kind: MalformedPlaylist, Reason: "EXTINF not followed by a URI"}
	}
	if !hasTargetDuration {
		return nil, &ParseError{Kind: MissingRequiredTag, Reason: "media playlist missing EXT-X-TARGETDURATION"}
	}

	return p, nil
}
