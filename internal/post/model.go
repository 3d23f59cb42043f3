package post

import (
	"errors"
	"time"
)

const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusPublished = "published"

	defaultCategory    = "finance-news"
	defaultSubCategory = "stocks"
)

var ErrNotFound = errors.New("post not found")

type HeroImage struct {
	URL string `json:"url"`
	Alt string `json:"alt"`
}

type Post struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content"`
	HeroImage       HeroImage  `json:"heroImage"`
	Category        string     `json:"category"`
	SubCategory     string     `json:"subCategory"`
	Tags            []string   `json:"tags"`
	Keywords        []string   `json:"keywords"`
	RelatedTickers  []string   `json:"relatedTickers"`
	Source          string     `json:"source"`
	ReferenceLinks  []string   `json:"referenceLinks"`
	Status          string     `json:"status"`
	ScheduledFor    *time.Time `json:"scheduledFor"`
	Views           int64      `json:"views"`
	MetaTitle       string     `json:"metaTitle"`
	MetaDescription string     `json:"metaDescription"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Input is the admin payload for create and update. Content is sanitised before it is stored.
type Input struct {
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Content         string     `json:"content"`
	HeroImage       HeroImage  `json:"heroImage"`
	Category        string     `json:"category"`
	SubCategory     string     `json:"subCategory"`
	Tags            []string   `json:"tags"`
	Keywords        []string   `json:"keywords"`
	RelatedTickers  []string   `json:"relatedTickers"`
	Source          string     `json:"source"`
	ReferenceLinks  []string   `json:"referenceLinks"`
	Status          string     `json:"status"`
	ScheduledFor    *time.Time `json:"scheduledFor"`
	MetaTitle       string     `json:"metaTitle"`
	MetaDescription string     `json:"metaDescription"`
}

type ListFilter struct {
	Category string
	Tag      string
	Page     int
	Limit    int
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Published identifies a post promoted by the publisher.
type Published struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}
