package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
)

// Valid reports whether f is a supported document format.
func (f Format) Valid() bool {
	return f == FormatPDF || f == FormatEPUB
}

type Book struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Author       string          `json:"author"`
	Format       Format          `json:"format"`
	TotalPages   int             `json:"totalPages"`
	FileSize     string          `json:"fileSize"`
	DateAdded    time.Time       `json:"dateAdded"`
	CoverImage   string          `json:"coverImage,omitempty"`
	Progress     float64         `json:"progress"`
	LastPage     *int            `json:"lastPage,omitempty"`
	LastLocation json.RawMessage `json:"lastLocation,omitempty"`
}

type Highlight struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"bookId"`
	BookTitle string    `json:"bookTitle"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Flashcard struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"bookId"`
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProgressRecord is the source of truth for reading progress; Book.Progress mirrors it.
type ProgressRecord struct {
	BookID      int64     `json:"bookId"`
	Percentage  float64   `json:"percentage"`
	CurrentPage int       `json:"currentPage"`
	TotalPages  int       `json:"totalPages"`
	LastRead    time.Time `json:"lastRead"`
}

type Settings struct {
	Theme      string  `json:"theme"`
	FontSize   int     `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
	LineHeight float64 `json:"lineHeight"`
}

// DefaultSettings is returned until the reader saves its own settings.
func DefaultSettings() Settings {
	return Settings{Theme: "light", FontSize: 16, FontFamily: "serif", LineHeight: 1.6}
}

type QuizScore struct {
	ID         int64     `json:"id"`
	Percentage float64   `json:"percentage"`
	Date       time.Time `json:"date"`
}

type StudyStats struct {
	PagesRead      int `json:"pagesRead"`
	ProblemsSolved int `json:"problemsSolved"`
	Flashcards     int `json:"flashcards"`
	QuizScore      int `json:"quizScore"`
}

type AIStatus struct {
	Configured bool   `json:"configured"`
	Model      string `json:"model"`
}

type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type QuizQuestion struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// Record identity used by the persistence layer.

func (b Book) StoreID() string { return strconv.FormatInt(b.ID, 10) }
func (b Book) StoreIndex() map[string]string { return nil }
func (h Highlight) StoreID() string { return strconv.FormatInt(h.ID, 10) }
func (h Highlight) StoreIndex() map[string]string { return bookIndex(h.BookID) }
func (f Flashcard) StoreID() string { return strconv.FormatInt(f.ID, 10) }
func (f Flashcard) StoreIndex() map[string]string { return bookIndex(f.BookID) }
func (q QuizScore) StoreID() string { return strconv.FormatInt(q.ID, 10) }
func (q QuizScore) StoreIndex() map[string]string { return nil }

// IndexBookID is the secondary index field shared by highlights and flashcards.
const IndexBookID = "bookId"

func bookIndex(id int64) map[string]string {
	return map[string]string{IndexBookID: strconv.FormatInt(id, 10)}
}
