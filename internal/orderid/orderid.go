package orderid

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Layout of an order id: 41 bits of milliseconds since Epoch, 10 bits of
// shard and 12 bits of per-millisecond sequence.
const (
	ShardBits    = 10
	SequenceBits = 12
	MaxShard     = 1<<ShardBits - 1
	MaxSequence  = 1<<SequenceBits - 1
)

// Epoch is 2020-01-01T00:00:00Z
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func init() {
	snowflake.Epoch = Epoch.UnixMilli()
	snowflake.NodeBits = ShardBits
	snowflake.StepBits = SequenceBits
}

// Generator hands out unique, time-ordered order ids for one process.
// The sequence counter lives inside the snowflake node and is advanced
// under its mutex; once MaxSequence+1 ids were issued in the same
// millisecond the node waits for the next millisecond rather than wrapping.
type Generator struct {
	node  *snowflake.Node
	shard int64
}

// New creates a generator for the given shard. Shards larger than MaxShard
// are folded modulo 1024.
func New(shard int64) (*Generator, error) {
	if shard < 0 {
		return nil, fmt.Errorf("invalid shard %d", shard)
	}
	shard %= MaxShard + 1

	node, err := snowflake.NewNode(shard)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node, shard: shard}, nil
}

// Generate returns the next order id as a base-10 string
func (g *Generator) Generate() string {
	return g.node.Generate().String()
}

// Shard returns the shard encoded in every id of this generator
func (g *Generator) Shard() int64 {
	return g.shard
}

// Parts is a decoded order id
type Parts struct {
	Time     time.Time
	Shard    int64
	Sequence int64
}

// Parse decodes an order id produced by Generate
func Parse(id string) (Parts, error) {
	sf, err := snowflake.ParseString(id)
	if err != nil {
		return Parts{}, fmt.Errorf("invalid order id %q: %w", id, err)
	}
	if sf.Int64() < 0 {
		return Parts{}, fmt.Errorf("invalid order id %q", id)
	}
	return Parts{
		Time:     time.UnixMilli(sf.Time()).UTC(),
		Shard:    sf.Node(),
		Sequence: sf.Step(),
	}, nil
}

// Compose packs the parts the same way Generate does. billingctl uses it to
// turn a time window into an id range.
func Compose(t time.Time, shard, sequence int64) int64 {
	ms := t.Sub(Epoch).Milliseconds()
	return ms<<(ShardBits+SequenceBits) |
		(shard%(MaxShard+1))<<SequenceBits |
		sequence%(MaxSequence+1)
}
