package repository

import "github.com/jackc/pgx/v5/pgxpool"

// PostgresStore is the production store: jobs and books share one pool.
type PostgresStore struct {
	*JobRepo
	*BookRepo
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		JobRepo:  NewJobRepo(pool),
		BookRepo: NewBookRepo(pool),
	}
}
