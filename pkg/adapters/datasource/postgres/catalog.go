package postgres

// columnsQuery lists the columns of the current schema's tables and views.
// Array and user-defined types report their udt name (_int4, mood).
const columnsQuery = `
SELECT
    c.table_name,
    c.column_name,
    CASE WHEN c.data_type IN ('ARRAY', 'USER-DEFINED') THEN c.udt_name ELSE c.data_type END AS data_type,
    c.is_nullable,
    CASE WHEN EXISTS (
        SELECT 1
        FROM information_schema.table_constraints tc
        JOIN information_schema.key_column_usage k
          ON k.constraint_name = tc.constraint_name
         AND k.table_schema = tc.table_schema
         AND k.table_name = tc.table_name
        WHERE tc.constraint_type = 'PRIMARY KEY'
          AND tc.table_schema = c.table_schema
          AND tc.table_name = c.table_name
          AND k.column_name = c.column_name
    ) THEN 1 ELSE 0 END AS is_key
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = current_schema()
  AND t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY c.table_name, c.ordinal_position`

const foreignKeysQuery = `
SELECT
    kcu.table_name,
    kcu.column_name,
    ccu.table_name,
    ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = current_schema()
ORDER BY kcu.table_name, kcu.column_name`
