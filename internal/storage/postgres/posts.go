package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

const postColumns = `p.id, p.blog_id, p.url, p.title, p.publication_date, p.discovered_at,
	p.reading_time, p.summary, p.technical_density, p.full_text,
	COALESCE(ARRAY(
		SELECT t.name FROM post_topics pt JOIN topics t ON t.id = pt.topic_id
		WHERE pt.post_id = p.id ORDER BY t.name
	), '{}')`

func scanPost(row scanner) (blog.Post, error) {
	var (
		p       blog.Post
		density *string
	)
	if err := row.Scan(
		&p.ID,
		&p.BlogID,
		&p.URL,
		&p.Title,
		&p.PublishedAt,
		&p.DiscoveredAt,
		&p.ReadingTime,
		&p.Summary,
		&density,
		&p.FullText,
		&p.Topics,
	); err != nil {
		return blog.Post{}, err
	}
	if density != nil {
		d, err := blog.ParseDensity(*density)
		if err != nil {
			return blog.Post{}, err
		}
		p.Density = d
	}
	return p, nil
}

func densityArg(d blog.Density) any {
	if d == blog.DensityUnset {
		return nil
	}
	return string(d)
}

// InsertPost stores the post and links its topics in one transaction.
func (g *Gateway) InsertPost(ctx context.Context, post blog.Post) (int64, error) {
	var id int64
	err := g.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO posts (blog_id, title, url, publication_date, discovered_at, reading_time, summary, technical_density, full_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
			post.BlogID,
			post.Title,
			post.URL,
			post.PublishedAt,
			post.DiscoveredAt,
			post.ReadingTime,
			post.Summary,
			densityArg(post.Density),
			post.FullText,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert post %q: %w", post.URL, blog.ErrDuplicateURL)
			}
			return fmt.Errorf("insert post: %w", err)
		}
		return linkTopics(ctx, tx, id, post.Topics)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func linkTopics(ctx context.Context, tx pgx.Tx, postID int64, topics []string) error {
	for _, name := range blog.NormalizeTopics(topics) {
		var topicID int64
		// The no-op update makes RETURNING yield the id of an existing topic.
		err := tx.QueryRow(ctx,
			`INSERT INTO topics (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`,
			name,
		).Scan(&topicID)
		if err != nil {
			return fmt.Errorf("upsert topic %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO post_topics (post_id, topic_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			postID, topicID,
		); err != nil {
			return fmt.Errorf("link topic %q: %w", name, err)
		}
	}
	return nil
}

// ExistingPostURLs returns the subset of urls already stored.
func (g *Gateway) ExistingPostURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := g.pool.Query(ctx, `SELECT url FROM posts WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("lookup post urls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan post url: %w", err)
		}
		out[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup post urls: %w", err)
	}
	return out, nil
}

// GetPostByURL loads a stored post with its topics.
func (g *Gateway) GetPostByURL(ctx context.Context, url string) (blog.Post, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.url = $1`, url)
	p, err := scanPost(row)
	if err != nil {
		return blog.Post{}, notFound(err, fmt.Sprintf("get post %q", url))
	}
	return p, nil
}

// UpdatePostMetadata replaces the enrichment fields and topic links of a post.
func (g *Gateway) UpdatePostMetadata(ctx context.Context, post blog.Post) error {
	return g.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE posts SET summary = $2, technical_density = $3, reading_time = $4, full_text = $5
WHERE id = $1`,
			post.ID,
			post.Summary,
			densityArg(post.Density),
			post.ReadingTime,
			post.FullText,
		)
		if err != nil {
			return fmt.Errorf("update post %d: %w", post.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update post %d: %w", post.ID, blog.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM post_topics WHERE post_id = $1`, post.ID); err != nil {
			return fmt.Errorf("clear topics for post %d: %w", post.ID, err)
		}
		return linkTopics(ctx, tx, post.ID, post.Topics)
	})
}

// PostsDiscoveredSince returns posts discovered at or after since, oldest first.
func (g *Gateway) PostsDiscoveredSince(ctx context.Context, since time.Time) ([]blog.Post, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts p WHERE p.discovered_at >= $1 ORDER BY p.discovered_at, p.id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}
	defer rows.Close()
	var out []blog.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}
	return out, nil
}

// ListTopics returns the topic vocabulary sorted by name.
func (g *Gateway) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT name FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

// InsertError appends to the error log.
func (g *Gateway) InsertError(ctx context.Context, rec blog.ErrorRecord) error {
	_, err := g.pool.Exec(ctx,
		`INSERT INTO error_log (blog_id, post_id, timestamp, error_type, message) VALUES ($1, $2, $3, $4, $5)`,
		rec.BlogID,
		rec.PostID,
		rec.Timestamp,
		string(rec.Category),
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}
