package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrNoRoomCode 所有重试都与存活或已退役的房间码冲突
var ErrNoRoomCode = errors.New("could not allocate a room code")

// CodeGenerator 生成一个候选房间码
type CodeGenerator func() (string, error)

// RandomCodes n 位大写字母数字房间码，取自 crypto/rand
func RandomCodes(n int) CodeGenerator {
	return func() (string, error) {
		out := make([]byte, 0, n)
		buf := make([]byte, n)
		for len(out) < n {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("reading random bytes: %w", err)
			}
			for _, b := range buf {
				// 252 = 7*36，丢弃尾部保证均匀
				if b >= 252 {
					continue
				}
				out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
				if len(out) == n {
					break
				}
			}
		}
		return string(out), nil
	}
}

// RoomStore 存活房间表以及连接到房间的反向索引
// 两张表共用一把 RWMutex；store 从不获取房间锁，调用方可以持有房间锁调用它
type RoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	bindings map[ConnID]string
	// 已销毁房间的房间码，永不复用
	// 只增不减：进程存活期间每销毁一个房间多占一个条目（6 位码约十几字节）
	retired map[string]struct{}

	newCode     CodeGenerator
	maxAttempts int
}

// NewRoomStore 创建空 store，房间码取自 gen
func NewRoomStore(gen CodeGenerator, maxAttempts int) *RoomStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RoomStore{
		rooms:       make(map[string]*Room),
		bindings:    make(map[ConnID]string),
		retired:     make(map[string]struct{}),
		newCode:     gen,
		maxAttempts: maxAttempts,
	}
}

// Create 分配未使用的房间码，用 build 创建房间并登记
// 与存活或已退役房间码冲突时重新生成
func (s *RoomStore) Create(build func(id string) *Room) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		id, err := s.newCode()
		if err != nil {
			return nil, err
		}
		if _, live := s.rooms[id]; live {
			continue
		}
		if _, used := s.retired[id]; used {
			continue
		}
		r := build(id)
		s.rooms[id] = r
		return r, nil
	}
	return nil, ErrNoRoomCode
}

// Get 按房间码查找存活房间
func (s *RoomStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Delete 移除房间并退役其房间码；同一临界区内解除仍指向该房间的 conns 绑定
func (s *RoomStore) Delete(id string, conns ...ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conns {
		if s.bindings[c] == id {
			delete(s.bindings, c)
		}
	}
	if _, ok := s.rooms[id]; !ok {
		return
	}
	delete(s.rooms, id)
	s.retired[id] = struct{}{}
}

// Bind 记录 conn 属于 roomID，覆盖旧绑定
func (s *RoomStore) Bind(conn ConnID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[conn] = roomID
}

// RoomFor conn 绑定的房间码
func (s *RoomStore) RoomFor(conn ConnID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bindings[conn]
	return id, ok
}

// Unbind 解除 conn 的绑定
func (s *RoomStore) Unbind(conn ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, conn)
}

// Len 存活房间数
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Bound 已绑定的连接数
func (s *RoomStore) Bound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

// All 全部存活房间，无序
func (s *RoomStore) All() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}
