package middleware

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/scenario-steal/internal/config"
)

// captureWriter forwards the response while keeping a bounded copy of the
// body for the cache.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// HistoryCache caches the public history response of each scenario in
// redis.  The engine calls Invalidate after every committed mutation, so
// the TTL only bounds how long an orphaned entry can live.
type HistoryCache struct {
	rdb *redis.Client
	cfg config.CacheConfig
	log *zap.Logger
}

// NewHistoryCache returns a cache; a nil client or a disabled config makes
// every method a no-op.
func NewHistoryCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *HistoryCache {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &HistoryCache{rdb: rdb, cfg: cfg, log: log.Named("cache")}
}

func (h *HistoryCache) enabled() bool {
	return h != nil && h.cfg.Enabled && h.rdb != nil
}

// HistoryKey is the redis key holding the cached history of a scenario.
func HistoryKey(prefix string, scenarioID int64) string {
	return strings.Join([]string{prefix, "scenario", strconv.FormatInt(scenarioID, 10), "history"}, ":")
}

// Invalidate drops the cached history of a scenario.
func (h *HistoryCache) Invalidate(ctx context.Context, scenarioID int64) {
	if !h.enabled() {
		return
	}
	if err := h.rdb.Del(ctx, HistoryKey(h.cfg.Prefix, scenarioID)).Err(); err != nil {
		h.log.Warn("invalidate history", zap.Int64("scenario_id", scenarioID), zap.Error(err))
	}
}

// Middleware serves GET requests on a route with an :id parameter from the
// cache and stores 200 responses on a miss.
func (h *HistoryCache) Middleware() echo.MiddlewareFunc {
	if !h.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	maxBody := int64(h.cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				return next(c)
			}
			ctx := c.Request().Context()
			key := HistoryKey(h.cfg.Prefix, id)

			if bs, err := h.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}

			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := h.rdb.Set(context.WithoutCancel(ctx), key, payload, h.cfg.TTL).Err(); err != nil {
				h.log.Warn("store history", zap.Int64("scenario_id", id), zap.Error(err))
			}
			return nil
		}
	}
}
