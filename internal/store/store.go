package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Message is a persisted chat line. New joiners get the room's recent
// history replayed from here.
type Message struct {
	ID         uint   `gorm:"primaryKey"`
	RoomID     string `gorm:"index"`
	SenderID   string
	SenderName string
	Text       string
	CreatedAt  int64
}

func NewDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

type MessageStore struct {
	DB *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{DB: db}
}

func (ms *MessageStore) SaveMessage(msg *Message) error {
	if err := ms.DB.Create(msg).Error; err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a room, oldest first.
func (ms *MessageStore) RecentMessages(roomID string, limit int) ([]Message, error) {
	var messages []Message
	err := ms.DB.
		Where("room_id = ?", roomID).
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
