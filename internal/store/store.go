package store

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Store 基于 Badger 的 KV 持久化层
// 保存三类数据：已处理交易标记、每个被跟单账户的游标、操作者本地持仓跟踪。
// 键空间按被跟单账户划分，每个监控器只写自己账户下的键，
// 因此除 Badger 自身的单键写保证外不需要额外加锁。
type Store struct {
	db *badger.DB
}

// 键前缀
const (
	prefixProcessed = "processed:" // processed:<trader>:<tradeID>
	prefixCursor    = "cursor:"    // cursor:<trader>
	prefixPosition  = "position:"  // position:<assetID>
)

// ProcessedTradeRecord 已处理交易标记
// 对每个通过去重检查并派发给执行器的交易恰好创建一次，
// 无论后续订单成功与否——这是"至多一次"保证的载体。
type ProcessedTradeRecord struct {
	Trader      string    `json:"trader"`
	TradeID     string    `json:"trade_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TrackedPosition 操作者本地持仓跟踪记录
// 实时快照不可用时作为 SELL 镜像的后备数据源
type TrackedPosition struct {
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Outcome   string    `json:"outcome"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	TotalCost float64   `json:"total_cost"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open 打开指定目录的存储
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "打开 badger 失败")
	}
	return &Store{db: db}, nil
}

// OpenInMemory 打开内存存储（测试用）
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "打开内存 badger 失败")
	}
	return &Store{db: db}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func processedKey(trader, tradeID string) []byte {
	return []byte(prefixProcessed + trader + ":" + tradeID)
}

// PutProcessed 写入已处理标记
// 重复写入是幂等的：同一键的第二次写入不改变可观察状态
func (s *Store) PutProcessed(rec ProcessedTradeRecord) error {
	if rec.Trader == "" || rec.TradeID == "" {
		return fmt.Errorf("trader 和 tradeID 不能为空")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		// 已存在则保留首次记录，保证 processedAt 不被覆盖
		if _, err := txn.Get(processedKey(rec.Trader, rec.TradeID)); err == nil {
			return nil
		}
		return txn.Set(processedKey(rec.Trader, rec.TradeID), data)
	})
}

// HasProcessed 查询是否已处理
func (s *Store) HasProcessed(trader, tradeID string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(processedKey(trader, tradeID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Cursor 读取某个账户的游标（最后成功处理的交易时间）
func (s *Store) Cursor(trader string) (time.Time, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixCursor + trader))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil || raw == nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "游标格式无效")
	}
	return t, true, nil
}

// SetCursor 更新某个账户的游标
func (s *Store) SetCursor(trader string, t time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixCursor+trader), []byte(t.Format(time.RFC3339Nano)))
	})
}

// UpsertTrackedPosition 写入/更新本地持仓跟踪
func (s *Store) UpsertTrackedPosition(pos TrackedPosition) error {
	pos.UpdatedAt = time.Now()
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixPosition+pos.AssetID), data)
	})
}

// TrackedPositionFor 读取本地持仓跟踪，不存在返回 nil
func (s *Store) TrackedPositionFor(assetID string) (*TrackedPosition, error) {
	var pos *TrackedPosition
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixPosition + assetID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			p := &TrackedPosition{}
			if err := json.Unmarshal(val, p); err != nil {
				return err
			}
			pos = p
			return nil
		})
	})
	return pos, err
}

// DeleteTrackedPosition 删除本地持仓跟踪（清仓后）
func (s *Store) DeleteTrackedPosition(assetID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixPosition + assetID))
	})
}
