package sqlinline

const QInsertGeneration = `--sql 6d372540-7a2a-4a52-ba4f-6459cc764a80
insert into generations(
  task_id,
  model,
  prompt,
  images,
  aspect_ratio,
  status,
  video_url,
  image_url,
  created_at,
  completed_at
) values (
  nullif($1::text, ''),
  nullif($2::text, ''),
  $3::text,
  $4::text[],
  nullif($5::text, ''),
  'succeeded',
  nullif($6::text, ''),
  nullif($7::text, ''),
  $8::timestamptz,
  $9::timestamptz
);
`
