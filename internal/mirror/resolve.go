package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
)

// recencyDoc carries the signal used to pick between two sources' copies of
// the same logical file.
type recencyDoc struct {
	LatestBlockNumber int64 `json:"latest_block_number"`
}

// resolveSources fetches name from both the primary and alternative source
// and returns whichever copy carries the highest latest_block_number. A
// missing field reads as zero; ties go to the primary. When only one source
// yields the file, that copy wins. Both failing is an error and the stored
// copy stays as it is.
func (e *Engine) resolveSources(ctx context.Context, name string) ([]byte, error) {
	primary, primaryBlock, primaryErr := e.fetchVersion(ctx, e.cfg.SourceURL, name)
	alt, altBlock, altErr := e.fetchVersion(ctx, e.cfg.AltSourceURL, name)

	switch {
	case primaryErr != nil && altErr != nil:
		return nil, fmt.Errorf("both sources failed for %s: primary: %v; alternative: %v", name, primaryErr, altErr)
	case primaryErr != nil:
		e.log.Info().Str("file", name).Int64("block", altBlock).Msg("using alternative source (primary unavailable)")
		return alt, nil
	case altErr != nil:
		e.log.Info().Str("file", name).Int64("block", primaryBlock).Msg("using primary source (alternative unavailable)")
		return primary, nil
	case altBlock > primaryBlock:
		e.log.Info().Str("file", name).Int64("block", altBlock).Int64("over", primaryBlock).Msg("using alternative source")
		return alt, nil
	default:
		e.log.Info().Str("file", name).Int64("block", primaryBlock).Msg("using primary source")
		return primary, nil
	}
}

func (e *Engine) fetchVersion(ctx context.Context, baseURL, name string) ([]byte, int64, error) {
	if baseURL == "" {
		return nil, 0, fmt.Errorf("no source configured")
	}
	fileURL, err := url.JoinPath(baseURL, name)
	if err != nil {
		return nil, 0, err
	}
	var doc recencyDoc
	body, err := e.client.FetchJSON(ctx, fileURL, &doc)
	if err != nil {
		return nil, 0, err
	}
	return body, doc.LatestBlockNumber, nil
}

func newReader(content []byte) io.Reader {
	return bytes.NewReader(content)
}
