// Package services wraps every system the item pipeline talks to.
//
//   - [ConverterStrategy] drives the third-party conversion site through a [Page] opened by a
//     [SessionFactory]. [BrowserSessions] is the chromedp implementation.
//   - [ExtractorStrategy] shells out to yt-dlp once per item and also flattens playlists.
//   - [Downloader] streams a resolved link to disk.
//   - [MinioStore] implements [models.ObjectStore] on MinIO / S3.
//   - [LoadItems] reads work items from CSV, JSON or plain text files.
package services
