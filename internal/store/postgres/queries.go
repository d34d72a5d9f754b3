package postgres

const queryInitSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    job_id        VARCHAR(36) PRIMARY KEY,
    bark_key      VARCHAR(255) NOT NULL,
    schedule_time TIMESTAMPTZ NOT NULL,
    content       TEXT NOT NULL,
    status        VARCHAR(50) NOT NULL,
    detail        TEXT,
    created_at    TIMESTAMPTZ NOT NULL
)
`

const queryPutTask = `
INSERT INTO tasks (job_id, bark_key, schedule_time, content, status, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id) DO UPDATE SET
    bark_key      = EXCLUDED.bark_key,
    schedule_time = EXCLUDED.schedule_time,
    content       = EXCLUDED.content,
    status        = EXCLUDED.status,
    detail        = EXCLUDED.detail
`

const queryGetAllTasks = `
SELECT job_id, bark_key, schedule_time, content, status, detail, created_at
FROM tasks
ORDER BY schedule_time ASC
`

const queryDeleteTask = `
DELETE FROM tasks WHERE job_id = $1
`
