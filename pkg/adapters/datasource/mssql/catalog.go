package mssql

// columnsQuery lists the columns of user tables and views in the default schema.
const columnsQuery = `
SELECT
    o.name AS table_name,
    c.name AS column_name,
    t.name AS data_type,
    CASE WHEN c.is_nullable = 1 THEN 'YES' ELSE 'NO' END AS is_nullable,
    CASE WHEN EXISTS (
        SELECT 1
        FROM sys.indexes i
        JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
        WHERE i.object_id = o.object_id AND i.is_primary_key = 1 AND ic.column_id = c.column_id
    ) THEN 1 ELSE 0 END AS is_key
FROM sys.objects o
JOIN sys.columns c ON c.object_id = o.object_id
JOIN sys.types t ON t.user_type_id = c.user_type_id
WHERE o.type IN ('U', 'V')
  AND o.is_ms_shipped = 0
  AND o.schema_id = SCHEMA_ID()
ORDER BY o.name, c.column_id`

const foreignKeysQuery = `
SELECT
    OBJECT_NAME(fkc.parent_object_id) AS from_table,
    pc.name AS from_column,
    OBJECT_NAME(fkc.referenced_object_id) AS to_table,
    rc.name AS to_column
FROM sys.foreign_key_columns fkc
JOIN sys.foreign_keys fk ON fk.object_id = fkc.constraint_object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
WHERE fk.schema_id = SCHEMA_ID()
ORDER BY from_table, from_column`
