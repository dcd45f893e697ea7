package redisserver

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// replyError is sent verbatim after the '-'.
type replyError string

func (e replyError) Error() string { return string(e) }

var (
	errSyntax   = replyError("ERR syntax error")
	errNotInt   = replyError("ERR value is not an integer or out of range")
	errLoading  = replyError("LOADING meshkv is loading the dataset in memory")
	errDBIndex  = replyError("ERR DB index is out of range")
	errWrongTyp = replyError("WRONGTYPE Operation against a key holding the wrong kind of value")
)

func wrongArgs(cmd string) error {
	return replyError("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

// errorLine converts err into the text of an error reply.
func errorLine(err error) string {
	var re replyError
	switch {
	case errors.As(err, &re):
		return string(re)
	case errors.Is(err, domain.ErrWrongType):
		return string(errWrongTyp)
	case errors.Is(err, domain.ErrInvalidDB):
		return string(errDBIndex)
	}
	return "ERR " + err.Error()
}

// command describes one command. arity counts the command name; a negative
// arity is a minimum.
type command struct {
	arity int
	// duringLoad allows the command while a snapshot is loading.
	duringLoad bool
	fn         func(h *Handler, c *Conn, args [][]byte) error
}

var commands = map[string]command{
	"PING":   {-1, true, (*Handler).ping},
	"QUIT":   {1, true, nil},
	"SELECT": {2, true, (*Handler).selectDB},

	"GET":    {2, false, (*Handler).get},
	"SET":    {-3, false, (*Handler).set},
	"DEL":    {-2, false, (*Handler).del},
	"EXISTS": {-2, false, (*Handler).exists},
	"EXPIRE": {3, false, (*Handler).expire},
	"TTL":    {2, false, (*Handler).ttl},
	"PTTL":   {2, false, (*Handler).pttl},

	"HSET":     {-4, false, (*Handler).hset},
	"HGETALL":  {2, false, (*Handler).hgetall},
	"SADD":     {-3, false, (*Handler).sadd},
	"SMEMBERS": {2, false, (*Handler).smembers},
	"RPUSH":    {-3, false, (*Handler).rpush},
	"LRANGE":   {4, false, (*Handler).lrange},

	"DBSIZE":   {1, false, (*Handler).dbsize},
	"FLUSHALL": {-1, false, (*Handler).flushall},

	"SAVE":   {-1, false, (*Handler).save},
	"BGSAVE": {-1, false, (*Handler).bgsave},
	"DEBUG":  {-2, true, (*Handler).debug},
	"INFO":   {-1, true, (*Handler).info},
	"CONFIG": {-2, true, (*Handler).config},
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Store       *memory.Store
	Coordinator *storage.Coordinator
	// Scheduler is optional; without it the schedule cannot be changed.
	Scheduler *schedule.Scheduler
	Metrics   *metric.Registry
	Logger    *slog.Logger
}

// Handler executes commands against the keyspace and the persistence
// coordinator.
type Handler struct {
	store   *memory.Store
	coord   *storage.Coordinator
	sched   *schedule.Scheduler
	metrics *metric.Registry
	logger  *slog.Logger
	started time.Time
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	return &Handler{
		store:   d.Store,
		coord:   d.Coordinator,
		sched:   d.Scheduler,
		metrics: d.Metrics,
		logger:  d.Logger.With("component", "redis"),
		started: time.Now(),
	}
}

// Handle executes one command and buffers its reply. It reports whether
// the client asked to close the connection.
func (h *Handler) Handle(c *Conn, args [][]byte) bool {
	name := commandName(args[0])
	cmd, ok := commands[name]
	var err error
	switch {
	case !ok:
		err = replyError("ERR unknown command '" + string(args[0]) + "'")
		name = "UNKNOWN"
	case (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity):
		err = wrongArgs(name)
	case !cmd.duringLoad && h.coord.Loading():
		err = errLoading
	case cmd.fn == nil:
		c.out.ok()
		h.metrics.RecordCommand(name, "ok")
		return true
	default:
		err = cmd.fn(h, c, args)
	}

	if err != nil {
		c.out.err(errorLine(err))
		h.metrics.RecordCommand(name, "err")
		return false
	}
	h.metrics.RecordCommand(name, "ok")
	return false
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInt
	}
	return n, nil
}

func keys(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

func (h *Handler) ping(c *Conn, args [][]byte) error {
	switch len(args) {
	case 1:
		c.out.simple("PONG")
	case 2:
		c.out.bulk(args[1])
	default:
		return wrongArgs("PING")
	}
	return nil
}

func (h *Handler) selectDB(c *Conn, args [][]byte) error {
	n, err := parseInt(args[1])
	if err != nil {
		return err
	}
	if n < 0 || n >= int64(h.store.Databases()) {
		return errDBIndex
	}
	c.db = uint32(n)
	c.out.ok()
	return nil
}

func (h *Handler) get(c *Conn, args [][]byte) error {
	v, ok, err := h.store.GetString(c.db, string(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.null()
		return nil
	}
	c.out.bulk(v)
	return nil
}

// set implements SET key value [EX seconds | PX milliseconds].
func (h *Handler) set(c *Conn, args [][]byte) error {
	var ttl time.Duration
	for i := 3; i < len(args); i++ {
		opt := commandName(args[i])
		if (opt != "EX" && opt != "PX") || i+1 >= len(args) || ttl != 0 {
			return errSyntax
		}
		n, err := parseInt(args[i+1])
		if err != nil {
			return err
		}
		if n <= 0 {
			return replyError("ERR invalid expire time in 'set' command")
		}
		if opt == "EX" {
			ttl = time.Duration(n) * time.Second
		} else {
			ttl = time.Duration(n) * time.Millisecond
		}
		i++
	}
	if err := h.store.SetString(c.db, string(args[1]), args[2], ttl); err != nil {
		return err
	}
	c.out.ok()
	return nil
}

func (h *Handler) del(c *Conn, args [][]byte) error {
	c.out.integer(int64(h.store.Del(c.db, keys(args[1:])...)))
	return nil
}

func (h *Handler) exists(c *Conn, args [][]byte) error {
	c.out.integer(int64(h.store.Exists(c.db, keys(args[1:])...)))
	return nil
}

func (h *Handler) expire(c *Conn, args [][]byte) error {
	n, err := parseInt(args[2])
	if err != nil {
		return err
	}
	if h.store.Expire(c.db, string(args[1]), time.Duration(n)*time.Second) {
		c.out.integer(1)
	} else {
		c.out.integer(0)
	}
	return nil
}

func (h *Handler) ttl(c *Conn, args [][]byte) error {
	ms := h.store.PTTL(c.db, string(args[1]))
	if ms < 0 {
		c.out.integer(ms)
		return nil
	}
	c.out.integer((ms + 500) / 1000)
	return nil
}

func (h *Handler) pttl(c *Conn, args [][]byte) error {
	c.out.integer(h.store.PTTL(c.db, string(args[1])))
	return nil
}

func (h *Handler) hset(c *Conn, args [][]byte) error {
	if len(args)%2 != 0 {
		return wrongArgs("HSET")
	}
	fields := make(map[string][]byte, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		fields[string(args[i])] = args[i+1]
	}
	n, err := h.store.HSet(c.db, string(args[1]), fields)
	if err != nil {
		return err
	}
	c.out.integer(int64(n))
	return nil
}

func (h *Handler) hgetall(c *Conn, args [][]byte) error {
	fields, err := h.store.HGetAll(c.db, string(args[1]))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	c.out.array(2 * len(names))
	for _, f := range names {
		c.out.bulkString(f)
		c.out.bulk(fields[f])
	}
	return nil
}

func (h *Handler) sadd(c *Conn, args [][]byte) error {
	n, err := h.store.SAdd(c.db, string(args[1]), args[2:]...)
	if err != nil {
		return err
	}
	c.out.integer(int64(n))
	return nil
}

func (h *Handler) smembers(c *Conn, args [][]byte) error {
	members, err := h.store.SMembers(c.db, string(args[1]))
	if err != nil {
		return err
	}
	c.out.bulks(members)
	return nil
}

func (h *Handler) rpush(c *Conn, args [][]byte) error {
	n, err := h.store.RPush(c.db, string(args[1]), args[2:]...)
	if err != nil {
		return err
	}
	c.out.integer(int64(n))
	return nil
}

func (h *Handler) lrange(c *Conn, args [][]byte) error {
	start, err := parseInt(args[2])
	if err != nil {
		return err
	}
	stop, err := parseInt(args[3])
	if err != nil {
		return err
	}
	items, err := h.store.LRange(c.db, string(args[1]), int(start), int(stop))
	if err != nil {
		return err
	}
	c.out.bulks(items)
	return nil
}

func (h *Handler) dbsize(c *Conn, _ [][]byte) error {
	c.out.integer(int64(h.store.DBSize(c.db)))
	return nil
}

// flushall accepts and ignores the SYNC and ASYNC modifiers.
func (h *Handler) flushall(c *Conn, args [][]byte) error {
	if len(args) > 2 {
		return errSyntax
	}
	if len(args) == 2 {
		if m := commandName(args[1]); m != "SYNC" && m != "ASYNC" {
			return errSyntax
		}
	}
	h.store.FlushAll()
	c.out.ok()
	return nil
}
